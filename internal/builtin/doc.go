// Package builtin registers the stock method set served by cmd/server:
// ping, auth.signIn, users.get, users.create, admin.stats and
// auth.rateLimit, together with the admin check backed by an admins table.
package builtin
