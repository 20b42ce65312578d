package sqlinline

// QInsertLibraryAsset returns no row when the staged asset was already promoted.
const QInsertLibraryAsset = `--sql 36d16cca-261e-42fe-b328-6aaabe59e6ec
insert into library_assets (
  id, owner_id, source_staged_asset_id, asset_type, storage_key, mime_type, size_bytes,
  duration_seconds, originating_prompt, model_used, generation_seed, custom_title, tags,
  collection_id, visibility
)
values ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::text[], $14::uuid, $15)
on conflict (source_staged_asset_id) do nothing
returning created_at;
`

const QSelectLibraryAssetByID = `--sql 0dfd67f5-42ab-4def-aa12-d6d428159182
select id::text, owner_id::text, source_staged_asset_id::text, asset_type, storage_key, mime_type,
  size_bytes, duration_seconds, originating_prompt, model_used, generation_seed, custom_title,
  tags, is_favorite, collection_id::text, visibility, created_at
from library_assets
where id = $1::uuid
limit 1;
`
