package sqlinline

const QInsertSubmission = `--sql f3d12183-d3a2-419f-98a8-c33c0a508cc4
insert into submissions (owner_id, token)
values ($1, $2)
on conflict (owner_id, token) do nothing
returning token;
`

const QSelectSubmissionJobs = `--sql 2e4a82ed-38b0-46e9-ba41-c82320742ade
select ` + jobColumns + `
from jobs
where owner_id = $1 and submission_token = $2
order by created_at asc, id asc;
`
