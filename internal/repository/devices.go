// internal/repository/devices.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	apperrors "push-dispatcher/internal/common/errors"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/metrics"
	"push-dispatcher/internal/models"
)

// DeviceLookup resolves the deliverable devices of a user.
type DeviceLookup interface {
	Lookup(ctx context.Context, userID string) ([]models.Device, error)
}

type deviceRow struct {
	UserID    string         `db:"user_id"`
	PushToken sql.NullString `db:"push_token"`
	Platform  sql.NullString `db:"platform"`
}

// DeviceDirectory reads user_devices.
type DeviceDirectory struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

func NewDeviceDirectory(db *sqlx.DB, queryTimeout time.Duration) *DeviceDirectory {
	return &DeviceDirectory{db: db, queryTimeout: queryTimeout}
}

// Lookup returns the user's devices deduplicated by token. No devices is not an error.
func (d *DeviceDirectory) Lookup(ctx context.Context, userID string) ([]models.Device, error) {
	if d.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.queryTimeout)
		defer cancel()
	}

	var rows []deviceRow
	if err := d.db.SelectContext(ctx, &rows, d.db.Rebind(selectDevicesSQL), userID); err != nil {
		return nil, apperrors.NewStoreError("lookup devices", err)
	}

	devices := make([]models.Device, 0, len(rows))
	for _, r := range rows {
		if !r.PushToken.Valid {
			continue
		}
		devices = append(devices, models.Device{
			UserID:    r.UserID,
			PushToken: r.PushToken.String,
			Platform:  r.Platform.String,
		})
	}
	return DedupeDevices(devices), nil
}

// DedupeDevices drops empty tokens and keeps the first device seen per token.
func DedupeDevices(devices []models.Device) []models.Device {
	seen := make(map[string]struct{}, len(devices))
	out := make([]models.Device, 0, len(devices))
	for _, d := range devices {
		if d.PushToken == "" {
			continue
		}
		if _, dup := seen[d.PushToken]; dup {
			continue
		}
		seen[d.PushToken] = struct{}{}
		out = append(out, d)
	}
	return out
}

// CachedDeviceDirectory is a read-through Redis cache in front of a DeviceLookup.
// Cache failures are logged and the lookup falls through.
type CachedDeviceDirectory struct {
	next   DeviceLookup
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedDeviceDirectory(next DeviceLookup, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedDeviceDirectory {
	return &CachedDeviceDirectory{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "device-cache"}),
	}
}

func deviceCacheKey(userID string) string {
	return "devices:" + userID
}

func (c *CachedDeviceDirectory) Lookup(ctx context.Context, userID string) ([]models.Device, error) {
	key := deviceCacheKey(userID)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var devices []models.Device
		if jsonErr := json.Unmarshal([]byte(cached), &devices); jsonErr == nil {
			metrics.DeviceCacheLookups.WithLabelValues("hit").Inc()
			return devices, nil
		}
		metrics.DeviceCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("discarding unreadable device cache entry", map[string]interface{}{"key": key})
	case errors.Is(err, redis.Nil):
		metrics.DeviceCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.DeviceCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("device cache read failed", map[string]interface{}{"key": key, "error": err})
	}

	devices, err := c.next.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(devices)
	if err != nil {
		return devices, nil
	}
	if err := c.rdb.Set(ctx, key, string(data), c.ttl).Err(); err != nil {
		c.logger.Warn("device cache write failed", map[string]interface{}{"key": key, "error": err})
	}
	return devices, nil
}
