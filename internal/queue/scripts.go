package queue

// Every transition out of the active set starts with ZREM on it, so only the
// worker still holding the lease can complete or fail a job. Timestamps come
// in as ARGV so all processes agree on the clock of the caller.

// KEYS: job, wait, delayed, seq
// ARGV: data, kind, priority, notBefore, delayed(0|1), id, maxAttempts
const enqueueLuaScript = `
local status = "waiting"
if ARGV[5] == "1" then status = "delayed" end
redis.call("HSET", KEYS[1], "data", ARGV[1], "kind", ARGV[2], "priority", ARGV[3],
	"attempts", 0, "stalls", 0, "max", ARGV[7], "status", status)
if ARGV[5] == "1" then
	redis.call("ZADD", KEYS[3], ARGV[4], ARGV[6])
else
	local seq = redis.call("INCR", KEYS[4])
	redis.call("ZADD", KEYS[2], tonumber(ARGV[3]) * 1e10 + seq, ARGV[6])
end
return 1
`

// KEYS: wait, active, paused
// ARGV: lease deadline, job key prefix
const fetchLuaScript = `
if redis.call("EXISTS", KEYS[3]) == 1 then
	return false
end
local ids = redis.call("ZRANGE", KEYS[1], 0, 0)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[2], ARGV[1], id)
redis.call("HSET", ARGV[2] .. id, "status", "active")
return id
`

// KEYS: delayed, seq
// ARGV: now, job key prefix, wait key prefix, limit
const promoteLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[4]))
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	local key = ARGV[2] .. id
	local kind = redis.call("HGET", key, "kind")
	if kind then
		local pri = tonumber(redis.call("HGET", key, "priority") or "0")
		local seq = redis.call("INCR", KEYS[2])
		redis.call("ZADD", ARGV[3] .. kind, pri * 1e10 + seq, id)
		redis.call("HSET", key, "status", "waiting")
	end
end
return #ids
`

// KEYS: active
// ARGV: id, new deadline
const extendLuaScript = `
if redis.call("ZSCORE", KEYS[1], ARGV[1]) then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`

// KEYS: active, completed, job
// ARGV: id, now
const completeLuaScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
redis.call("HINCRBY", KEYS[3], "attempts", 1)
redis.call("HSET", KEYS[3], "status", "completed", "finished", ARGV[2])
return 1
`

// KEYS: active, failed, delayed, job
// ARGV: id, now, error, retryAt (0 = never retry)
// Returns 0 when the lease was lost, 1 when retried, 2 when failed for good.
const failLuaScript = `
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local attempts = redis.call("HINCRBY", KEYS[4], "attempts", 1)
local max = tonumber(redis.call("HGET", KEYS[4], "max") or "1")
if ARGV[4] == "0" or attempts >= max then
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
	redis.call("HSET", KEYS[4], "status", "failed", "error", ARGV[3], "finished", ARGV[2])
	return 2
end
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
redis.call("HSET", KEYS[4], "status", "delayed", "error", ARGV[3])
return 1
`

// KEYS: active, failed, seq
// ARGV: now, job key prefix, wait key prefix, max stalls, limit
// Returns {requeued, failed}.
const stalledLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[5]))
local requeued, failed = 0, 0
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	local key = ARGV[2] .. id
	if redis.call("EXISTS", key) == 1 then
		local stalls = redis.call("HINCRBY", key, "stalls", 1)
		if stalls > tonumber(ARGV[4]) then
			redis.call("ZADD", KEYS[2], ARGV[1], id)
			redis.call("HSET", key, "status", "failed", "error", "job stalled more than allowable limit", "finished", ARGV[1])
			failed = failed + 1
		else
			local kind = redis.call("HGET", key, "kind")
			local pri = tonumber(redis.call("HGET", key, "priority") or "0")
			local seq = redis.call("INCR", KEYS[3])
			redis.call("ZADD", ARGV[3] .. kind, pri * 1e10 + seq, id)
			redis.call("HSET", key, "status", "waiting")
			requeued = requeued + 1
		end
	end
end
return {requeued, failed}
`

// KEYS: job, active, delayed
// ARGV: id, wait key prefix
// Returns 1 removed, 0 unknown or finished, -1 active.
const removeLuaScript = `
local kind = redis.call("HGET", KEYS[1], "kind")
if not kind then
	return 0
end
if redis.call("ZSCORE", KEYS[2], ARGV[1]) then
	return -1
end
local n = redis.call("ZREM", ARGV[2] .. kind, ARGV[1]) + redis.call("ZREM", KEYS[3], ARGV[1])
if n == 0 then
	return 0
end
redis.call("DEL", KEYS[1])
return 1
`

// KEYS: finished set
// ARGV: cutoff, job key prefix, limit
const pruneLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
	redis.call("DEL", ARGV[2] .. id)
	redis.call("ZREM", KEYS[1], id)
end
return #ids
`
