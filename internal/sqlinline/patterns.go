package sqlinline

const patternColumns = `pattern_key, issue_type, severity, occurrence_count, first_seen, last_seen,
       auto_fix_available, coalesce(auto_fix_strategy, '')`

// QUpsertPattern folds one detection into the pattern row; first_seen is only
// written by the insert branch.
const QUpsertPattern = `--sql c1d03dfc-9f59-4dbf-9154-36cb10d6a894
insert into patterns (pattern_key, issue_type, severity, occurrence_count, first_seen, last_seen)
values ($1, $2, $3, 1, $4, $4)
on conflict (pattern_key) do update
set occurrence_count = patterns.occurrence_count + 1,
    last_seen        = greatest(patterns.last_seen, excluded.last_seen),
    issue_type       = excluded.issue_type,
    severity         = excluded.severity
returning ` + patternColumns + `;
`

const QSelectPattern = `--sql 0d7c7fd5-367d-4ff5-a0e3-61af528a0c83
select ` + patternColumns + `
from patterns
where pattern_key = $1;
`

const QSelectPatterns = `--sql 19e4fed6-e9f0-4932-9d33-5ca4af8e657e
select ` + patternColumns + `
from patterns
order by occurrence_count desc, last_seen desc;
`

const QPromotePattern = `--sql d7210eb4-4567-4e13-af3a-eb5d06683346
update patterns
set auto_fix_available = true,
    auto_fix_strategy  = $2
where pattern_key = $1
returning ` + patternColumns + `;
`
