// Package profile is the Redis-backed remote document store that holds one
// profile document per identity plus that identity's day schedules.
//
// # Key layout
//
//	<prefix>:profile:{uid}              hash   profile document
//	<prefix>:profile-events:{uid}       pubsub change notifications
//	<prefix>:schedules:{uid}            zset   schedule dates scored yyyymmdd
//	<prefix>:schedule:{uid}:<date>      hash   wakeTime / sleepTime
//
// All keys of one identity share the {uid} hash tag. Conditional writes and the
// schedule batch run as Lua scripts so each is applied atomically. Every
// successful write publishes on the events channel; SubscribeDocument turns
// those notifications into fresh document snapshots.
//
// # What this package must NOT do
//
//   - Import goSession; the root package adapts Store to its ProfileStore.
//   - Interpret profile fields beyond the counters it increments.
package profile
