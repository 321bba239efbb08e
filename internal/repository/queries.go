// internal/repository/queries.go
package repository

// Queries are written with ? placeholders and rebound for the driver in use,
// so the same text runs against Postgres and the SQLite test database.
const (
	jobColumns = `id, kind, tournament_id, recipient_user_id, payload, status, attempts, last_error, created_at, updated_at`

	selectPendingIDsSQL = `SELECT id FROM notification_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT ?`

	claimJobSQL = `UPDATE notification_jobs SET status = 'processing', attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = 'pending'`

	selectClaimedSQL = `SELECT ` + jobColumns + ` FROM notification_jobs WHERE id IN (?) AND status = 'processing' ORDER BY created_at ASC`

	// attempts fences the write to the claim that produced it.
	transitionJobSQL = `UPDATE notification_jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = 'processing' AND attempts = ?`

	touchJobSQL = `UPDATE notification_jobs SET updated_at = ? WHERE id = ? AND status = 'processing' AND attempts = ?`

	reclaimStaleSQL = `UPDATE notification_jobs SET status = CASE WHEN attempts >= ? THEN 'failed' ELSE 'pending' END, last_error = ?, updated_at = ? WHERE status = 'processing' AND updated_at < ?`

	selectDevicesSQL = `SELECT user_id, push_token, platform FROM user_devices WHERE user_id = ? ORDER BY created_at ASC`

	insertHistorySQL = `INSERT INTO notifications_history (user_id, type, payload, created_at) VALUES (?, ?, ?, ?)`
)

// LeaseExpiredMessage is written to last_error by the lease sweep.
const LeaseExpiredMessage = "lease expired"

const (
	insertJobSQL = `INSERT INTO notification_jobs (id, kind, tournament_id, recipient_user_id, payload, status, attempts, created_at, updated_at) VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?)`

	countByStatusSQL = `SELECT status, COUNT(*) AS count FROM notification_jobs GROUP BY status`

	requeueJobSQL = `UPDATE notification_jobs SET status = 'pending', attempts = 0, last_error = NULL, updated_at = ? WHERE id = ? AND status = 'failed'`
)
