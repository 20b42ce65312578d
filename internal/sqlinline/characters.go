package sqlinline

const QSelectCharacterByID = `--sql 620775e8-4546-44a6-9a0e-bd2aef92003e
select id::text, owner_id::text, name, tagline, physical_traits, personality, locked_traits,
  avoid_traits, reference_image_url, seed, variation
from characters
where id = $1::uuid
limit 1;
`

// A preview only leaves completed or failed when a new preview resets it to pending.
const QUpdateCharacterPreview = `--sql 9d38efa9-6661-4e21-8ec8-a9137b40aa93
update characters
set preview_status = $2::text,
    preview_image_url = case when $3::text = '' then preview_image_url else $3::text end,
    preview_error = $4::text,
    updated_at = now()
where id = $1::uuid
  and ($2::text = 'pending' or preview_status not in ('completed', 'failed'));
`
