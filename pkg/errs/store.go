package errs

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// postgres SQLSTATE
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08000": true,
	"08003": true,
	"08006": true,
	"57P01": true, // admin_shutdown
	"53300": true, // too_many_connections
}

// FromStore 将数据库错误归类为 STORE_TRANSIENT / INTEGRITY，其余原样返回
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var be *BaseError
	if errors.As(err, &be) {
		return err
	}
	if IsIntegrityViolation(err) {
		return Wrap(CodeIntegrity, "写入违反约束", err)
	}
	if IsStoreTransient(err) {
		return Wrap(CodeStoreTransient, "数据库临时错误", err)
	}
	return err
}

// IsStoreTransient 判断是否为可重试的数据库错误
func IsStoreTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreTransient) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"deadlock", "connection reset", "broken pipe", "database is locked", "bad connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsIntegrityViolation 判断是否违反数据完整性约束
func IsIntegrityViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}

// IsAlreadyExists 并发建表时的“已存在”错误视为成功，仅用于 DDL
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	// TranslateError 开启后 23505 被翻译为 gorm.ErrDuplicatedKey
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42P07 duplicate_table; 并发 CREATE TABLE 可能在 pg_type 上触发 23505
		return pgErr.Code == "42P07" || pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
