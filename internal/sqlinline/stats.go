package sqlinline

const QIncrementStat = `--sql 58225bd0-e620-4b93-a998-0025c5a046f4
insert into app_stats (key, value, updated_at)
values ($1::text, 1, now())
on conflict (key) do update set
    value = app_stats.value + 1,
    updated_at = now();
`

const QSelectStat = `--sql c7195d63-05d1-4780-ab09-1fb0ccf1d402
select value
from app_stats
where key = $1::text;
`
