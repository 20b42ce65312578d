package sqlinline

const stagedColumns = `id::text, job_id::text, owner_id::text, asset_type, temp_storage_key, mime_type,
  size_bytes, duration_seconds, originating_prompt, model_used, generation_seed,
  workspace_session_id, promoted_at, library_asset_id::text, created_at`

// QInsertStagedAsset is a no-op when the job already has a staged asset.
const QInsertStagedAsset = `--sql bfbabf0f-a548-4dac-83a4-d6808716b011
insert into staged_assets (
  id, job_id, owner_id, asset_type, temp_storage_key, mime_type, size_bytes,
  duration_seconds, originating_prompt, model_used, generation_seed, workspace_session_id
)
values ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12)
on conflict (job_id) do nothing
returning ` + stagedColumns + `;
`

const QSelectStagedAssetByJob = `--sql 65b585d9-673d-4e96-9aec-e19d7b1ad93a
select ` + stagedColumns + `
from staged_assets
where job_id = $1::uuid
limit 1;
`

const QSelectStagedAssetByID = `--sql 438f5064-cab6-40d4-9aea-05bcc080de71
select ` + stagedColumns + `
from staged_assets
where id = $1::uuid
limit 1;
`

const QListStagedAssetsByOwner = `--sql 7a6060d7-45b3-459d-95db-105ded3bbea0
select ` + stagedColumns + `
from staged_assets
where owner_id = $1::uuid
  and promoted_at is null
  and ($2::text = '' or workspace_session_id = $2::text)
order by created_at desc
limit $3::int;
`

const QListExpiredStagedAssets = `--sql 4ffdda24-3c61-42f0-8432-8a9d6677465e
select ` + stagedColumns + `
from staged_assets
where promoted_at is null and created_at < $1
order by created_at asc
limit $2::int;
`

const QDeleteStagedAsset = `--sql 323cb43a-4d24-494e-b03d-9e61d5a34bf2
delete from staged_assets
where id = $1::uuid and promoted_at is null;
`

const QMarkStagedAssetPromoted = `--sql 7ad05620-2f58-450e-9a0d-156c75494de6
update staged_assets
set promoted_at = now(), library_asset_id = $2::uuid
where id = $1::uuid and promoted_at is null;
`
