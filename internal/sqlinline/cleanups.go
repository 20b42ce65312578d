package sqlinline

// QScheduleCleanup re-arms an intent unless the operation it guards already committed.
const QScheduleCleanup = `--sql d93ed2ea-fda5-4f58-be89-ee2b57fc9ccf
insert into storage_cleanups (id, bucket, object_key, reason, ref_id, status, due_at)
values ($1::uuid, $2, $3, $4, $5, 'pending', $6)
on conflict (id) do update
set status = 'pending', due_at = excluded.due_at, last_error = '', updated_at = now()
where storage_cleanups.status <> 'cancelled';
`

const QCancelCleanup = `--sql 3e9eb415-0e8e-4be6-899d-e98be6651bd8
update storage_cleanups
set status = 'cancelled', updated_at = now()
where id = $1::uuid and status = 'pending';
`

// QClaimDueCleanups leases due intents by pushing their due_at forward so a
// concurrent sweeper skips them.
const QClaimDueCleanups = `--sql 6430530c-b2ae-438b-975c-71d910adffb6
with due as (
    select id
    from storage_cleanups
    where status = 'pending' and due_at <= $1
    order by due_at asc
    for update skip locked
    limit $2::int
)
update storage_cleanups c
set attempts = c.attempts + 1,
    due_at = $1 + interval '5 minutes',
    updated_at = now()
from due
where c.id = due.id
returning c.id::text, c.bucket, c.object_key, c.reason, c.ref_id, c.status, c.attempts, c.due_at, c.last_error;
`

const QMarkCleanupDone = `--sql ca388fb1-1005-407a-98cf-a79ca1649116
update storage_cleanups
set status = 'done', last_error = '', updated_at = now()
where id = $1::uuid and status = 'pending';
`

const QMarkCleanupFailed = `--sql 1214be34-7c25-4a2c-9cda-6616ffa3064f
update storage_cleanups
set last_error = $2, due_at = $3, updated_at = now()
where id = $1::uuid and status = 'pending';
`
