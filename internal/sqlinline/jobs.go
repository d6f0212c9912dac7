package sqlinline

const jobColumns = `id::text, owner_id, title, status, progress, version, retry_count, resume_stage,
       coalesce(error_message, ''), last_error, options, sources,
       coalesce(parent_job_id::text, ''), coalesce(submission_token, ''), created_at, updated_at`

const QInsertJob = `--sql ad8dab15-5c69-4fd3-850a-970ed50d0c89
insert into jobs (owner_id, title, status, progress, options, sources, parent_job_id, submission_token)
values ($1, $2, 'queued', 0, $3::jsonb, $4::jsonb, nullif($5, '')::uuid, nullif($6, ''))
returning ` + jobColumns + `;
`

const QSelectJob = `--sql d9fd9297-4357-4ed9-a5d6-76a90e98a133
select ` + jobColumns + `
from jobs
where id = $1::uuid;
`

const QSelectJobVersion = `--sql 1cff266f-43e5-4519-9640-1162202bfc01
select version from jobs where id = $1::uuid;
`

// QUpdateJobStatus only applies when the caller saw the current version.
// error_message survives only on failed jobs.
const QUpdateJobStatus = `--sql b54447c9-e4c1-4f0a-8182-b2c1b380ab63
update jobs
set status        = coalesce($3, status),
    progress      = coalesce($4, progress),
    retry_count   = coalesce($5, retry_count),
    resume_stage  = coalesce($6, resume_stage),
    last_error    = coalesce($7, last_error),
    error_message = case when coalesce($3, status) = 'failed' then coalesce($8, error_message) else null end,
    version       = version + 1,
    updated_at    = now()
where id = $1::uuid and version = $2
returning ` + jobColumns + `;
`

const QSelectStuckJobs = `--sql f4e7c01e-482d-45a1-8302-c184be5b36df
select ` + jobColumns + `
from jobs j
join unnest($1::text[], $2::bigint[]) as rule(stage, threshold_seconds) on rule.stage = j.status
where j.updated_at < $3::timestamptz - make_interval(secs => rule.threshold_seconds)
  and ($4::timestamptz is null or (j.updated_at, j.id) > ($4::timestamptz, $5::uuid))
order by j.updated_at asc, j.id asc
limit $6;
`

const QSelectActiveJobs = `--sql 05160e07-b48e-43f7-8740-b8e28bcf60e8
select ` + jobColumns + `
from jobs
where status not in ('completed', 'failed')
order by created_at desc
limit $1;
`
