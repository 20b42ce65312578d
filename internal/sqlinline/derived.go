package sqlinline

const QInsertImageRecord = `--sql 71a2198d-ca4f-49bf-baa5-63861f52037e
insert into images (job_id, owner_id, prompt, model, seed)
values ($1::uuid, $2::uuid, $3, $4, $5)
returning id::text, status, created_at, updated_at;
`

const QSelectImageByJob = `--sql 261104e8-c761-4ae9-9320-09adb590ea57
select id::text, job_id::text, owner_id::text, status, url, error_message, prompt, model, seed,
  null::double precision, created_at, updated_at
from images
where job_id = $1::uuid
limit 1;
`

// Status updates on derived records never leave completed or failed.
const QSetImageStatus = `--sql 223dd6f9-d7d4-47d2-a58f-1ae8797be324
update images
set status = $2::text,
    url = coalesce($3::text, url),
    error_message = coalesce($4::text, error_message),
    updated_at = now()
where job_id = $1::uuid and status not in ('completed', 'failed')
returning id::text, job_id::text, owner_id::text, status, url, error_message, prompt, model, seed,
  null::double precision, created_at, updated_at;
`

const QInsertVideoRecord = `--sql 041355ed-b1ed-407e-b15b-87f7c19ba1f0
insert into videos (job_id, owner_id, prompt, model, seed, duration_seconds)
values ($1::uuid, $2::uuid, $3, $4, $5, $6)
returning id::text, status, created_at, updated_at;
`

const QSelectVideoByJob = `--sql c2f9ceaa-e3e6-43ce-bf8d-7b2b73e27487
select id::text, job_id::text, owner_id::text, status, url, error_message, prompt, model, seed,
  duration_seconds, created_at, updated_at
from videos
where job_id = $1::uuid
limit 1;
`

const QSetVideoStatus = `--sql a5bd5f2f-8a3c-44d5-9ad5-9af7b8d70919
update videos
set status = $2::text,
    url = coalesce($3::text, url),
    error_message = coalesce($4::text, error_message),
    updated_at = now()
where job_id = $1::uuid and status not in ('completed', 'failed')
returning id::text, job_id::text, owner_id::text, status, url, error_message, prompt, model, seed,
  duration_seconds, created_at, updated_at;
`
