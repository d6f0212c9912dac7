package sqlinline

const QInsertAutoFix = `--sql 962aa8c1-62d1-4a09-bcb5-9087a3ec27d5
insert into autofixes (issue_type, issue_description, severity, auto_fixed, fix_applied, pattern_key,
                       job_id, actor_identity, detected_at, fixed_at)
values ($1, $2, $3, $4, nullif($5, ''), $6, nullif($7, '')::uuid, nullif($8, ''), $9, $10)
returning id;
`

const QSelectRecentAutoFixes = `--sql 9b1edeac-ce55-4e23-a465-44000757cbf7
select id, issue_type, issue_description, severity, auto_fixed, coalesce(fix_applied, ''), pattern_key,
       coalesce(job_id::text, ''), coalesce(actor_identity, ''), detected_at, fixed_at
from autofixes
order by detected_at desc, id desc
limit $1;
`
