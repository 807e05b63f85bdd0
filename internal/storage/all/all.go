// Package all registers every sink backend with the storage registry.
//
// Import it for side effects from binaries that select the backend from
// configuration:
//
//	import _ "sparkify/internal/storage/all"
package all

import (
	_ "sparkify/internal/storage/mssql"
	_ "sparkify/internal/storage/postgres"
	_ "sparkify/internal/storage/sqlite"
)
