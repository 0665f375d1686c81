// Package sync reconciles provider IP blocks into the local proxy inventory.
package sync

import (
	"context"
	"fmt"

	"poolwarden/internal/database"
	"poolwarden/internal/decodo"
	"poolwarden/internal/domain"
	"poolwarden/internal/metrics"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const allBlocksFanOutLimit = 4

// Lookup resolves the upstream IP document for one candidate proxy.
type Lookup interface {
	Lookup(ctx context.Context, through domain.ProxyServer) (*decodo.IPInfo, error)
}

type Syncer struct {
	lookup Lookup
}

func NewSyncer(lookup Lookup) *Syncer {
	return &Syncer{lookup: lookup}
}

// Stats summarises one block pass. Per-port failures land in Errors and
// never abort the rest of the block.
type Stats struct {
	Created int
	Updated int
	Skipped int
	Errors  int
}

func (stats Stats) Add(other Stats) Stats {
	stats.Created += other.Created
	stats.Updated += other.Updated
	stats.Skipped += other.Skipped
	stats.Errors += other.Errors
	return stats
}

// SyncBlock resolves every port in the block and upserts the discovered
// IP and proxy pair, keyed by the returned IP address. Providers remap IPs
// across ports over time, so the port is never the identity.
func (syncer *Syncer) SyncBlock(ctx context.Context, blockID uint) (Stats, error) {
	var stats Stats

	block, err := database.GetIPBlockByID(blockID)
	if err != nil {
		return stats, fmt.Errorf("load ip block %d: %w", blockID, err)
	}
	if block == nil {
		return stats, fmt.Errorf("ip block %d not found", blockID)
	}

	for offset := uint16(0); offset < block.BlockSize; offset++ {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		port := block.PortAt(offset)

		existing, err := database.GetProxyServerByHostPort(block.Endpoint, port)
		if err != nil {
			stats.Errors++
			metrics.SyncErrors.Inc()
			log.Error("lookup existing proxy", "block_id", blockID, "port", port, "error", err)
			continue
		}
		if existing != nil && existing.AutoDeactivated() {
			// Deliberately killed; resync must not resurrect it.
			stats.Skipped++
			continue
		}

		candidate := domain.ProxyServer{
			Host:     block.Endpoint,
			Port:     port,
			Username: block.Username,
			Password: block.Password,
		}

		info, err := syncer.lookup.Lookup(ctx, candidate)
		if err != nil {
			stats.Errors++
			metrics.SyncErrors.Inc()
			log.Warn("fetch ip info", "block_id", blockID, "port", port, "error", err)
			continue
		}

		created, err := syncer.upsertPort(block, port, info)
		if err != nil {
			stats.Errors++
			metrics.SyncErrors.Inc()
			log.Error("upsert discovered ip", "block_id", blockID, "port", port, "ip", info.Proxy.IP, "error", err)
			continue
		}

		if created {
			stats.Created++
			metrics.SyncProxiesCreated.Inc()
		} else {
			stats.Updated++
			metrics.SyncProxiesUpdated.Inc()
		}
	}

	log.Info("block sync finished",
		"block_id", blockID,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"errors", stats.Errors)

	return stats, nil
}

// upsertPort writes the DiscoveredIP and ProxyServer pair for one resolved
// IP. The sibling proxy is located by the discovered-IP back-reference
// first, then by (host, port), so re-provisioning the same port before
// dedup completes cannot create duplicates.
func (syncer *Syncer) upsertPort(block *domain.IPBlock, port uint16, info *decodo.IPInfo) (bool, error) {
	discovered, err := database.GetDiscoveredIPByAddress(info.Proxy.IP)
	if err != nil {
		return false, err
	}

	var proxy *domain.ProxyServer
	if discovered != nil && discovered.ProxyServerID != nil {
		proxy, err = database.GetProxyServerByID(*discovered.ProxyServerID)
		if err != nil {
			return false, err
		}
	}
	if proxy == nil {
		proxy, err = database.GetProxyServerByHostPort(block.Endpoint, port)
		if err != nil {
			return false, err
		}
	}

	if proxy != nil && proxy.AutoDeactivated() {
		return false, fmt.Errorf("proxy %d is auto-deactivated", proxy.ID)
	}

	createdProxy := false
	if proxy == nil {
		proxy = &domain.ProxyServer{
			Host:        block.Endpoint,
			Port:        port,
			Username:    block.Username,
			Password:    block.Password,
			IsActive:    true,
			IsDedicated: block.IsDedicated,
		}
		if block.IsDedicated {
			if err := proxy.SetStaticIP(info.Proxy.IP); err != nil {
				log.Warn("invalid static ip from provider", "ip", info.Proxy.IP, "error", err)
			}
		}
		if err := database.CreateProxyServer(proxy); err != nil {
			return false, err
		}
		createdProxy = true
	} else {
		// Refresh addressing and credentials; is_active is preserved so a
		// resync never revives a proxy an operator disabled.
		proxy.Host = block.Endpoint
		proxy.Port = port
		proxy.Username = block.Username
		proxy.Password = block.Password
		proxy.IsDedicated = block.IsDedicated
		if block.IsDedicated {
			if err := proxy.SetStaticIP(info.Proxy.IP); err != nil {
				log.Warn("invalid static ip from provider", "ip", info.Proxy.IP, "error", err)
			}
		}
		if err := database.SaveProxyServer(proxy); err != nil {
			return false, err
		}
	}

	if discovered == nil {
		discovered = &domain.DiscoveredIP{IPAddress: info.Proxy.IP}
	}
	applyIPInfo(discovered, block, port, info)
	discovered.ProxyServerID = &proxy.ID

	if err := database.SaveDiscoveredIP(discovered); err != nil {
		return false, err
	}

	return createdProxy, nil
}

func applyIPInfo(discovered *domain.DiscoveredIP, block *domain.IPBlock, port uint16, info *decodo.IPInfo) {
	discovered.Port = port
	discovered.IPBlockID = block.ID

	discovered.ISPName = info.ISP.ISP
	discovered.ASN = info.ISP.ASN.String()
	discovered.ISPDomain = info.ISP.Domain
	discovered.Organization = info.ISP.Organization

	discovered.City = info.City.Name
	discovered.CityCode = info.City.Code
	discovered.State = info.City.State
	discovered.TimeZone = info.City.TimeZone
	discovered.ZipCode = info.City.ZipCode
	discovered.Latitude = info.City.Latitude
	discovered.Longitude = info.City.Longitude

	discovered.CountryCode = info.Country.Code
	discovered.CountryName = info.Country.Name
	discovered.Continent = info.Country.Continent
}

// RunAllBlocks syncs every block with bounded in-process fan-out. A failing
// block is logged and never blocks its siblings.
func (syncer *Syncer) RunAllBlocks(ctx context.Context) (Stats, error) {
	blockIDs, err := database.ListIPBlockIDs()
	if err != nil {
		return Stats{}, fmt.Errorf("list ip blocks: %w", err)
	}

	results := make([]Stats, len(blockIDs))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(allBlocksFanOutLimit)

	for i, blockID := range blockIDs {
		group.Go(func() error {
			stats, err := syncer.SyncBlock(groupCtx, blockID)
			if err != nil {
				log.Error("block sync failed", "block_id", blockID, "error", err)
				return nil
			}
			results[i] = stats
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Stats{}, err
	}

	var total Stats
	for _, stats := range results {
		total = total.Add(stats)
	}
	return total, nil
}

// BackfillMissingProxyRecords recreates the ProxyServer for every
// DiscoveredIP that lost its proxy. Pure reconciliation; safe to run
// repeatedly.
func BackfillMissingProxyRecords(ctx context.Context) (int, error) {
	orphans, err := database.ListDiscoveredIPsMissingProxy()
	if err != nil {
		return 0, fmt.Errorf("list orphaned discovered ips: %w", err)
	}

	created := 0
	for _, orphan := range orphans {
		select {
		case <-ctx.Done():
			return created, ctx.Err()
		default:
		}

		block, err := database.GetIPBlockByID(orphan.IPBlockID)
		if err != nil || block == nil {
			log.Warn("orphaned discovered ip without block", "ip", orphan.IPAddress, "block_id", orphan.IPBlockID, "error", err)
			continue
		}

		proxy, err := database.GetProxyServerByHostPort(block.Endpoint, orphan.Port)
		if err != nil {
			log.Error("lookup proxy for backfill", "ip", orphan.IPAddress, "error", err)
			continue
		}

		if proxy == nil {
			proxy = &domain.ProxyServer{
				Host:        block.Endpoint,
				Port:        orphan.Port,
				Username:    block.Username,
				Password:    block.Password,
				IsActive:    true,
				IsDedicated: block.IsDedicated,
			}
			if block.IsDedicated {
				if err := proxy.SetStaticIP(orphan.IPAddress); err != nil {
					log.Warn("invalid static ip on backfill", "ip", orphan.IPAddress, "error", err)
				}
			}
			if err := database.CreateProxyServer(proxy); err != nil {
				log.Error("backfill proxy", "ip", orphan.IPAddress, "error", err)
				continue
			}
			created++
		}

		orphan.ProxyServerID = &proxy.ID
		if err := database.SaveDiscoveredIP(&orphan); err != nil {
			log.Error("relink discovered ip", "ip", orphan.IPAddress, "error", err)
		}
	}

	if created > 0 {
		log.Info("backfilled missing proxy records", "created", created)
	}
	return created, nil
}
