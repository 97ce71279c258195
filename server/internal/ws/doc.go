// Package ws streams collector activity over WebSocket at /ws/stream.
//
// A subscriber gets the current stats when it connects. After that, each
// tick that follows new batches produces two frames: the stats, then the
// records accepted since the previous tick (oldest first, newest 200 at most).
// The ?types=a,b query limits the records frame to those record types.
//
//	{"event": "stats",   "data": { /* GET /api/v1/stats */ }}
//	{"event": "records", "data": [ /* GET /api/v1/records entries */ ]}
//
// Subscribers that fall behind are disconnected. Origins are not checked.
package ws
