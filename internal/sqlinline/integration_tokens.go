package sqlinline

// Provider credentials managed with cmd/credentials. Blank tokens are
// treated as absent.
const QSelectIntegrationToken = `--sql b01d1530-e3c0-448c-bed5-861452711760
select token
from integration_tokens
where provider = $1::text
  and btrim(token) <> '';
`

// Properties are merged so earlier metadata survives a token rotation.
const QUpsertIntegrationToken = `--sql d7ddbfbe-d8b0-4759-bf72-778efd835759
insert into integration_tokens (provider, token, properties)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update set
    token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
