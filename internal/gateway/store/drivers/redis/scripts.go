package redis

import goredis "github.com/redis/go-redis/v9"

// Script results.
const (
	resultOK          = 1
	resultRevoked     = 0
	resultMissing     = -1
	resultNextExists  = -2
	resultSaveExisted = 0
)

// KEYS: session, expiry index
// ARGV: pexpireat, expiry score, index member, field/value pairs...
var saveScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// KEYS: session
// ARGV: revoked_at, replaced_by
var revokeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1], 'replaced_by', ARGV[2])
return 1
`)

// KEYS: old session, new session, expiry index
// ARGV: revoked_at, new hash, pexpireat, expiry score, field/value pairs...
var rotateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then return 0 end
if redis.call('EXISTS', KEYS[2]) == 1 then return -2 end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[1], 'replaced_by', ARGV[2])
redis.call('HSET', KEYS[2], unpack(ARGV, 5))
redis.call('PEXPIREAT', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
return 1
`)

// KEYS: expiry index
// ARGV: cutoff score, key prefix
var purgeScript = goredis.NewScript(`
local hashes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, h in ipairs(hashes) do
  redis.call('DEL', ARGV[2] .. h)
  redis.call('ZREM', KEYS[1], h)
end
return #hashes
`)
