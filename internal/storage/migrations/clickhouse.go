package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "oracle-monitor/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the database named in dsn if needed and
// applies every embedded statement. The returned connection targets that
// database and is owned by the caller.
//
// ClickHouse DDL here is written with IF NOT EXISTS, so files are replayed on
// every start rather than tracked.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	files, err := load(clickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse server: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+db+"`")
	if cerr := admin.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse database %s: %w", db, err)
	}
	if err := applyClickhouse(ctx, conn, files); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("clickhouse schema ready", zap.String("database", db), zap.Int("files", len(files)))
	return conn, nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn, files []migration) error {
	for _, m := range files {
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		// The native protocol takes one statement per Exec.
		for i, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s statement %d: %w", m.Version, i+1, err)
			}
		}
	}
	return nil
}

// splitStatements drops "--" comment lines and splits the rest on ";".
// It does not understand quoting; validateNoSemicolonInStrings guards that.
func splitStatements(input string) []string {
	var b strings.Builder
	for _, line := range strings.Split(input, "\n") {
		if t := strings.TrimSpace(line); t == "" || strings.HasPrefix(t, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

var errQuotedSemicolon = errors.New("semicolon inside a string literal")

// validateNoSemicolonInStrings rejects SQL with ';' inside single quotes.
// A doubled quote is an escaped quote.
func validateNoSemicolonInStrings(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("%w at offset %d", errQuotedSemicolon, i)
			}
		}
	}
	return nil
}

// databaseFromDSN returns the database path segment of dsn. Only
// [A-Za-z0-9_] names are accepted since the name is spliced into DDL.
func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn has no database")
	}
	for _, r := range db {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", fmt.Errorf("clickhouse database name %q: only letters, digits and '_' allowed", db)
		}
	}
	return db, nil
}
