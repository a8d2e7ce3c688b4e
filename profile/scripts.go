package profile

import "github.com/redis/go-redis/v9"

// createIfAbsentLua creates the document only when it does not exist and
// stamps createdAt with the server clock.
// KEYS[1] = document key
// ARGV    = field/value pairs
// Returns 1 when created, 0 when the document already existed.
var createIfAbsentLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local now = redis.call('TIME')
redis.call('HSET', KEYS[1], 'createdAt', now[1])
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// updateIfExistsLua merges fields into an existing document.
// KEYS[1] = document key
// ARGV    = field/value pairs
// Returns 1 when updated, 0 when the document is missing.
var updateIfExistsLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// incrementLua adds integer deltas to counters of an existing document.
// KEYS[1] = document key
// ARGV    = field/delta pairs
// Returns 1 when applied, 0 when the document is missing.
var incrementLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// replaceLua overwrites the whole document.
// KEYS[1] = document key
// ARGV    = field/value pairs
var replaceLua = redis.NewScript(`
redis.call('DEL', KEYS[1])
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// batchSchedulesLua rewrites wake and sleep time on every schedule dated on
// or after the given day, in one atomic step. The caller lists the schedule
// keys it read from the index; if the index no longer yields exactly those
// keys nothing is written and -1 is returned.
// KEYS[1] = schedule index (zset scored yyyymmdd)
// KEYS[2..] = schedule keys, in index order
// ARGV[1] = minimum score (inclusive)
// ARGV[2] = schedule key prefix
// ARGV[3] = wake time
// ARGV[4] = sleep time
// Returns the number of schedules rewritten.
var batchSchedulesLua = redis.NewScript(`
local dates = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], '+inf')
if #dates ~= #KEYS - 1 then
  return -1
end
for i, date in ipairs(dates) do
  if KEYS[i + 1] ~= ARGV[2] .. date then
    return -1
  end
end
for i = 2, #KEYS do
  redis.call('HSET', KEYS[i], 'wakeTime', ARGV[3], 'sleepTime', ARGV[4])
end
return #dates
`)
