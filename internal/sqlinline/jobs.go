package sqlinline

const jobColumns = `id::text, owner_id::text, type, status, target_entity_id, workspace_session_id,
  request, metadata, error_message, derived_asset_id::text, created_at, updated_at, completed_at`

const QInsertJob = `--sql f7a89a8b-0441-4756-9518-f1ad4c33502a
insert into jobs (id, owner_id, type, status, target_entity_id, workspace_session_id, request, metadata)
values ($1::uuid, $2::uuid, $3, 'queued', $4, $5, $6::jsonb, $7::jsonb)
returning created_at, updated_at;
`

const QSelectJobByID = `--sql 0ed610b4-aa32-4b7a-a14b-af7a0bf9ce41
select ` + jobColumns + `
from jobs
where id = $1::uuid
limit 1;
`

// QCompareAndSetJobStatus only matches while the stored status equals $2, so
// concurrent writers cannot both move the same job. Metadata is merged.
const QCompareAndSetJobStatus = `--sql 5d991896-0cd6-430e-8d51-c6fab8f0ca75
update jobs
set status = $3::text,
    metadata = metadata || $4::jsonb,
    error_message = coalesce($5::text, error_message),
    derived_asset_id = coalesce($6::uuid, derived_asset_id),
    updated_at = now(),
    completed_at = case when $3::text in ('completed', 'failed') then now() else completed_at end
where id = $1::uuid and status = $2::text
returning ` + jobColumns + `;
`

const QListJobsByOwner = `--sql 5a09476f-73b8-4686-ae5e-eff4cf0dcf90
select ` + jobColumns + `
from jobs
where owner_id = $1::uuid
  and ($2::text = '' or workspace_session_id = $2::text)
order by created_at desc
limit $3::int;
`
