package postgres

const jobColumns = `
    id, name, trigger_type, trigger_value, trigger_timezone,
    target_id, task_name, payload, timeout_ms,
    notify_success, notify_warning, notify_error, notify_channel,
    enabled, next_run_at, created_at, updated_at
`

const queryUpsertJob = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
    name             = EXCLUDED.name,
    trigger_type     = EXCLUDED.trigger_type,
    trigger_value    = EXCLUDED.trigger_value,
    trigger_timezone = EXCLUDED.trigger_timezone,
    target_id        = EXCLUDED.target_id,
    task_name        = EXCLUDED.task_name,
    payload          = EXCLUDED.payload,
    timeout_ms       = EXCLUDED.timeout_ms,
    notify_success   = EXCLUDED.notify_success,
    notify_warning   = EXCLUDED.notify_warning,
    notify_error     = EXCLUDED.notify_error,
    notify_channel   = EXCLUDED.notify_channel,
    enabled          = EXCLUDED.enabled,
    next_run_at      = EXCLUDED.next_run_at,
    updated_at       = EXCLUDED.updated_at
`

const queryGetJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

const queryListJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY id`

const queryLoadActive = `SELECT ` + jobColumns + ` FROM jobs WHERE enabled = true ORDER BY id`

const queryDeleteJob = `DELETE FROM jobs WHERE id = $1`

const queryUpdateNextRun = `
UPDATE jobs
SET next_run_at = $2, updated_at = $3
WHERE id = $1
`

const querySetEnabled = `
UPDATE jobs
SET enabled = $2, next_run_at = $3, updated_at = $4
WHERE id = $1
`

const queryInsertExecution = `
INSERT INTO executions (id, job_id, started_at, completed_at, duration_ms, status, severity, output_summary, error_detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const executionColumns = `
    id, job_id, started_at, completed_at, duration_ms,
    status, severity, output_summary, error_detail
`

const queryListExecutions = `
SELECT ` + executionColumns + `
FROM executions
WHERE job_id = $1
ORDER BY started_at DESC, id
LIMIT $2 OFFSET $3
`

const queryLatestExecution = `
SELECT ` + executionColumns + `
FROM executions
WHERE job_id = $1
ORDER BY started_at DESC, id
LIMIT 1
`

// Insert-or-increment in a single statement.
const queryIncrementStats = `
INSERT INTO job_stats (job_id, total_executions, success_count, last_execution_at)
VALUES ($1, 1, $2, $3)
ON CONFLICT (job_id) DO UPDATE SET
    total_executions  = job_stats.total_executions + 1,
    success_count     = job_stats.success_count + EXCLUDED.success_count,
    last_execution_at = EXCLUDED.last_execution_at
`

const queryGetStats = `
SELECT total_executions, success_count, last_execution_at
FROM job_stats
WHERE job_id = $1
`
