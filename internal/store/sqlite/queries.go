package sqlite

const jobColumns = `
    id, name, trigger_type, trigger_value, trigger_timezone,
    target_id, task_name, payload, timeout_ms,
    notify_success, notify_warning, notify_error, notify_channel,
    enabled, next_run_at, created_at, updated_at
`

const queryUpsertJob = `
INSERT INTO jobs (` + jobColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name             = excluded.name,
    trigger_type     = excluded.trigger_type,
    trigger_value    = excluded.trigger_value,
    trigger_timezone = excluded.trigger_timezone,
    target_id        = excluded.target_id,
    task_name        = excluded.task_name,
    payload          = excluded.payload,
    timeout_ms       = excluded.timeout_ms,
    notify_success   = excluded.notify_success,
    notify_warning   = excluded.notify_warning,
    notify_error     = excluded.notify_error,
    notify_channel   = excluded.notify_channel,
    enabled          = excluded.enabled,
    next_run_at      = excluded.next_run_at,
    updated_at       = excluded.updated_at
`

const queryGetJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

const queryListJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY id`

const queryLoadActive = `SELECT ` + jobColumns + ` FROM jobs WHERE enabled = 1 ORDER BY id`

const queryDeleteJob = `DELETE FROM jobs WHERE id = ?`

const queryUpdateNextRun = `UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`

const querySetEnabled = `UPDATE jobs SET enabled = ?, next_run_at = ?, updated_at = ? WHERE id = ?`

const queryInsertExecution = `
INSERT INTO executions (id, job_id, started_at, completed_at, duration_ms, status, severity, output_summary, error_detail)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const executionColumns = `
    id, job_id, started_at, completed_at, duration_ms,
    status, severity, output_summary, error_detail
`

const queryListExecutions = `
SELECT ` + executionColumns + `
FROM executions
WHERE job_id = ?
ORDER BY started_at DESC, id
LIMIT ? OFFSET ?
`

const queryLatestExecution = `
SELECT ` + executionColumns + `
FROM executions
WHERE job_id = ?
ORDER BY started_at DESC, id
LIMIT 1
`

const queryIncrementStats = `
INSERT INTO job_stats (job_id, total_executions, success_count, last_execution_at)
VALUES (?, 1, ?, ?)
ON CONFLICT (job_id) DO UPDATE SET
    total_executions  = total_executions + 1,
    success_count     = success_count + excluded.success_count,
    last_execution_at = excluded.last_execution_at
`

const queryGetStats = `SELECT total_executions, success_count, last_execution_at FROM job_stats WHERE job_id = ?`
