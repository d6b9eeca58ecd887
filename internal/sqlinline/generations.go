package sqlinline

const generationColumns = `id, tenant_id, tool, coalesce(provider_job_id, ''), source_image_ref,
  coalesce(result_image_ref, ''), state, coalesce(error_detail, ''),
  coalesce(linked_catalog_entry_id, ''), coalesce(processing_seconds, 0), created_at, updated_at`

const QInsertGeneration = `--sql da346c27-3c9a-4681-ba1b-2ce8f897c070
insert into generation_jobs (tenant_id, tool, provider_job_id, source_image_ref, result_image_ref, state, error_detail, processing_seconds)
values ($1::text, $2::text, nullif($3::text, ''), $4::text, nullif($5::text, ''), $6::text, nullif($7::text, ''), $8::double precision)
returning id, created_at, updated_at;
`

const QAttachProviderJob = `--sql ae531cd8-df5e-4f48-8b2a-45e20289a7af
update generation_jobs
set provider_job_id = $2::text,
    updated_at = now()
where id = $1::bigint;
`

const QSelectGenerationByID = `--sql 0df7cc9a-d2cf-4417-9640-55bc1f255fec
select ` + generationColumns + `
from generation_jobs
where id = $1::bigint;
`

const QSelectGenerationByProviderJob = `--sql 51e77594-01d2-4e8b-bccd-d0e85a816406
select ` + generationColumns + `
from generation_jobs
where provider_job_id = $1::text
  and tool = $2::text
order by id desc
limit 1;
`

const QCompleteGeneration = `--sql 1139983a-9678-40a4-8fcb-9c9bd7373281
update generation_jobs
set state = 'completed',
    result_image_ref = $2::text,
    processing_seconds = $3::double precision,
    error_detail = null,
    updated_at = now()
where id = $1::bigint
  and state = 'processing';
`

const QFailGeneration = `--sql e0b17a70-656b-43d2-8cb9-c75b8ac6a722
update generation_jobs
set state = 'failed',
    error_detail = $2::text,
    processing_seconds = $3::double precision,
    updated_at = now()
where id = $1::bigint
  and state = 'processing';
`

const QListCompletedGenerations = `--sql e130a709-b761-4163-b244-de88f9b353ab
select ` + generationColumns + `
from generation_jobs
where tenant_id = $1::text
  and state = 'completed'
order by updated_at desc, id desc
limit $2::int;
`

const QLinkGenerationCatalogEntry = `--sql 9d828a8c-041f-4386-ab8d-aed294ec155b
update generation_jobs
set linked_catalog_entry_id = $3::text,
    updated_at = now()
where tenant_id = $1::text
  and id = $2::bigint;
`
