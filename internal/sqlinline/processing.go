package sqlinline

// QEnqueueProcessing hands a job to the external pipeline and wakes any
// listener on the processing_jobs channel.
const QEnqueueProcessing = `--sql fdea00ff-2a1f-4769-9b39-25d10f511f10
with queued as (
    insert into processing_queue (job_id, options)
    values ($1::uuid, $2::jsonb)
    returning job_id
)
select pg_notify('processing_jobs', job_id::text) from queued;
`
