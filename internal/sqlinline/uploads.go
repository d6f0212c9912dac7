package sqlinline

const uploadFileColumns = `session_id::text, file_id, owner_id, name, content_type, size, received_bytes,
       completed, storage_key, created_at, updated_at`

const QInsertUploadSession = `--sql 58313ff8-bb67-46ee-bd97-b8b4acc6b267
insert into upload_sessions (owner_id, title)
values ($1, $2)
returning id::text;
`

const QInsertUploadFile = `--sql 46639b65-91ba-4f25-a514-707fbd273436
insert into upload_files (session_id, file_id, owner_id, name, content_type, size)
values ($1::uuid, $2, $3, $4, $5, $6);
`

const QSelectUploadFile = `--sql 2c4a2193-93cb-4934-a950-14cf20aa2adc
select ` + uploadFileColumns + `
from upload_files
where session_id = $1::uuid and file_id = $2;
`

// QAdvanceUploadFile moves the acknowledged offset only from the value the
// caller read, so two writers racing on the same file cannot both win.
const QAdvanceUploadFile = `--sql d1cff533-05a2-43f3-a595-3b3882c2e441
update upload_files
set received_bytes = $4,
    updated_at     = now()
where session_id = $1::uuid and file_id = $2 and received_bytes = $3 and $4 <= size
returning ` + uploadFileColumns + `;
`

const QCompleteUploadFile = `--sql f673222d-c701-4e76-b093-cbc3c0ffe267
update upload_files
set completed   = true,
    storage_key = $3,
    updated_at  = now()
where session_id = $1::uuid and file_id = $2 and received_bytes = size
returning ` + uploadFileColumns + `;
`

const QSelectUploadFiles = `--sql 52156274-2365-468a-9533-83fae0df9788
select ` + uploadFileColumns + `
from upload_files
where session_id = $1::uuid
order by created_at asc, file_id asc;
`
