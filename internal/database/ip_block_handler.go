package database

import (
	"errors"
	"fmt"

	"poolwarden/internal/domain"

	"gorm.io/gorm"
)

func GetIPBlockByID(id uint) (*domain.IPBlock, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var block domain.IPBlock
	err := DB.First(&block, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func ListIPBlockIDs() ([]uint, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialised")
	}

	var ids []uint
	if err := DB.Model(&domain.IPBlock{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// RotateIPBlockCredentials replaces the block credentials. Blocks are
// otherwise immutable after creation.
func RotateIPBlockCredentials(id uint, username, password string) error {
	if DB == nil {
		return fmt.Errorf("database not initialised")
	}

	block, err := GetIPBlockByID(id)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("ip block %d not found", id)
	}

	block.Username = username
	block.Password = password
	return DB.Save(block).Error
}
