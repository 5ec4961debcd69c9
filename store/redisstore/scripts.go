// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package redisstore

import "github.com/redis/go-redis/v9"

// appendChange is shared by the scripts. KEYS[2] is the stream,
// KEYS[3] the sequence counter, ARGV[1] the stream length cap.
const appendChange = `
local function append(kind, path, rev)
	local seq = redis.call('INCR', KEYS[3])
	redis.call('XADD', KEYS[2], 'MAXLEN', ARGV[1], '*',
		'seq', seq, 'kind', kind, 'path', path, 'rev', rev)
end
local function parents(first)
	for i = first, #ARGV do
		if redis.call('SADD', KEYS[4], ARGV[i]) == 1 then
			append('folder', ARGV[i], '')
		end
	end
end
`

// uploadScript writes an object under a precondition.
//
//	KEYS: object, stream, seq, folders
//	ARGV: maxlen, mode, expected, rev, data, path, parents...
//
// Returns {"ok", rev}, {"conflict", currentRev} or {"folder", ""}.
var uploadScript = redis.NewScript(appendChange + `
if redis.call('SISMEMBER', KEYS[4], ARGV[6]) == 1 then
	return {'folder', ''}
end
local current = redis.call('HGET', KEYS[1], 'rev')
if not current then current = '' end
if ARGV[2] == 'create' and current ~= '' then
	return {'conflict', current}
end
if ARGV[2] == 'update' and current ~= ARGV[3] then
	return {'conflict', current}
end
parents(7)
redis.call('HSET', KEYS[1], 'data', ARGV[5], 'rev', ARGV[4])
append('file', ARGV[6], ARGV[4])
return {'ok', ARGV[4]}
`)

// createFolderScript creates a folder.
//
//	KEYS: object at the folder path, stream, seq, folders
//	ARGV: maxlen, path, parents...
//
// Returns "ok" or "exists".
var createFolderScript = redis.NewScript(appendChange + `
if redis.call('SISMEMBER', KEYS[4], ARGV[2]) == 1 or redis.call('EXISTS', KEYS[1]) == 1 then
	return 'exists'
end
parents(3)
redis.call('SADD', KEYS[4], ARGV[2])
append('folder', ARGV[2], '')
return 'ok'
`)
