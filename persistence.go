package identity

import (
	"database/sql"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// RegisterModels registers every model with the persistence layer so
// migrations and fixtures can see them. Join models must be registered
// before bun resolves the m2m relations.
func RegisterModels() {
	persistence.RegisterModel((*UserToRole)(nil))
	persistence.RegisterModel((*RoleToPrivilege)(nil))
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*Role)(nil))
	persistence.RegisterModel((*Privilege)(nil))
	persistence.RegisterModel((*RefreshToken)(nil))
	persistence.RegisterModel((*VerificationToken)(nil))
	persistence.RegisterModel((*AuditEvent)(nil))
}

// RegisterJoinTables wires the m2m join models into the bun schema
// registry for hosts that manage their own *bun.DB.
func RegisterJoinTables(db *bun.DB) {
	db.RegisterModel((*UserToRole)(nil))
	db.RegisterModel((*RoleToPrivilege)(nil))
}

// OpenSQLite opens a sqlite-backed *bun.DB with the join tables registered.
// Convenience for local development and tests, production hosts wire their
// own driver and dialect.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	RegisterJoinTables(db)
	return db, nil
}
