package queue

import "github.com/redis/go-redis/v9"

// Key layout under "mailq:<name>:"
//   delayed    ZSET  correlation id -> ready-at (unix ms)
//   wait       LIST  correlation ids ready for a consumer
//   active     ZSET  correlation id -> lease deadline (unix ms)
//   completed  ZSET  correlation id -> finished-at (unix ms), trimmed to keep-completed
//   failed     ZSET  correlation id -> finished-at (unix ms), trimmed to keep-failed
//   seq        STRING enqueue counter; orders units that share a ready-at
//   unit:<id>  HASH  payload, state, seq, attempts, owner, error, timestamps
//
// Unit hashes are addressed by prefix inside the scripts, so the queue runs on a single Redis node.

// enqueueScript inserts a unit unless one with the same correlation id already exists.
// KEYS: unit, delayed, wait, seq. ARGV: id, payload, ready-at, now.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local seq = redis.call('INCR', KEYS[4])
local readyAt = tonumber(ARGV[3])
if readyAt <= tonumber(ARGV[4]) then
	redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'state', 'wait', 'seq', seq, 'ready_at', ARGV[3], 'enqueued_at', ARGV[4], 'attempts', 0)
	redis.call('RPUSH', KEYS[3], ARGV[1])
else
	redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'state', 'delayed', 'seq', seq, 'ready_at', ARGV[3], 'enqueued_at', ARGV[4], 'attempts', 0)
	redis.call('ZADD', KEYS[2], readyAt, ARGV[1])
end
return 1
`)

// reserveScript promotes due delayed units in (ready-at, seq) order, then leases the
// head of the wait list. A full batch is extended to the whole group sharing its last
// ready-at so a tie is never split across calls.
// KEYS: delayed, wait, active. ARGV: now, lease deadline, unit prefix, promote batch, owner.
var reserveScript = redis.NewScript(`
local batch = tonumber(ARGV[4])
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, batch)
local units, seen = {}, {}
for i = 1, #due, 2 do
	units[#units + 1] = {id = due[i], score = tonumber(due[i + 1])}
	seen[due[i]] = true
end
if #units == batch then
	local last = due[#due]
	for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], last, last)) do
		if not seen[id] then
			units[#units + 1] = {id = id, score = tonumber(last)}
			seen[id] = true
		end
	end
end
for _, u in ipairs(units) do
	u.seq = tonumber(redis.call('HGET', ARGV[3] .. u.id, 'seq')) or 0
end
table.sort(units, function(a, b)
	if a.score ~= b.score then
		return a.score < b.score
	end
	return a.seq < b.seq
end)
for _, u in ipairs(units) do
	redis.call('ZREM', KEYS[1], u.id)
	redis.call('RPUSH', KEYS[2], u.id)
	redis.call('HSET', ARGV[3] .. u.id, 'state', 'wait')
end
local id = redis.call('LPOP', KEYS[2])
if not id then
	return false
end
local unit = ARGV[3] .. id
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), id)
redis.call('HSET', unit, 'state', 'active', 'owner', ARGV[5], 'started_at', ARGV[1])
local attempts = redis.call('HINCRBY', unit, 'attempts', 1)
local payload = redis.call('HGET', unit, 'payload')
return {id, payload, attempts}
`)

// finishScript moves an active unit to completed or failed and trims the retention set.
// KEYS: active, finished set. ARGV: id, now, unit prefix, keep, state, error.
var finishScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local unit = ARGV[3] .. ARGV[1]
redis.call('HSET', unit, 'state', ARGV[5], 'finished_at', ARGV[2])
if ARGV[6] ~= '' then
	redis.call('HSET', unit, 'error', ARGV[6])
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[2]), ARGV[1])
local keep = tonumber(ARGV[4])
local size = redis.call('ZCARD', KEYS[2])
if size > keep then
	local old = redis.call('ZRANGE', KEYS[2], 0, size - keep - 1)
	for _, oid in ipairs(old) do
		redis.call('DEL', ARGV[3] .. oid)
	end
	redis.call('ZREMRANGEBYRANK', KEYS[2], 0, size - keep - 1)
end
return 1
`)

// requeueStalledScript returns units whose lease expired to the front of the wait list.
// KEYS: active, wait. ARGV: now, unit prefix.
var requeueStalledScript = redis.NewScript(`
local stalled = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(stalled) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	redis.call('HSET', ARGV[2] .. id, 'state', 'wait')
	redis.call('HDEL', ARGV[2] .. id, 'owner')
end
return #stalled
`)
