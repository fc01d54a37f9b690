// Package pool extracts small interfaces from jackc/pgx pool types,
// so that stores and tests can share one vocabulary for "something
// which runs queries" without depending on concrete pgx structs.
package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// something which begins a SQL transaction.
type Begin interface {
	Begin(ctx context.Context) (Tx, error)
}

// something which sends SQL.
//
// extracted from `pgxpool.Conn` and `pgx.Tx`. When you need more
// methods found in pgx, add them here.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// subset of `pgx.Tx`.
//
// `pgx.Tx` itself does not implement Tx (go lacks covariance);
// wrap via Pool.Begin.
type Tx interface {
	Queryer

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgxTx struct {
	base pgx.Tx
}

var _ Tx = &pgxTx{}

func (tx *pgxTx) Commit(ctx context.Context) error {
	return tx.base.Commit(ctx)
}
func (tx *pgxTx) Rollback(ctx context.Context) error {
	return tx.base.Rollback(ctx)
}
func (tx *pgxTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return tx.base.Exec(ctx, sql, arguments...)
}
func (tx *pgxTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return tx.base.Query(ctx, sql, args...)
}
func (tx *pgxTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return tx.base.QueryRow(ctx, sql, args...)
}

// subset of `*pgxpool.Conn`.
type Conn interface {
	Begin
	Queryer

	Release()
	Ping(ctx context.Context) error
}

type pgxPoolConn struct {
	base *pgxpool.Conn
}

var _ Conn = &pgxPoolConn{}

func (c *pgxPoolConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.base.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (c *pgxPoolConn) Release() {
	c.base.Release()
}
func (c *pgxPoolConn) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return c.base.Exec(ctx, sql, arguments...)
}
func (c *pgxPoolConn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return c.base.Query(ctx, sql, args...)
}
func (c *pgxPoolConn) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return c.base.QueryRow(ctx, sql, args...)
}
func (c *pgxPoolConn) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

// subset of `*pgxpool.Pool`. Wrap a pgxpool.Pool to get one.
type Pool interface {
	Begin

	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
}

type pgxPool struct {
	base *pgxpool.Pool
}

var _ Pool = &pgxPool{}

func (p *pgxPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.base.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.base.Acquire(ctx)
	if conn == nil {
		return nil, err
	}
	return &pgxPoolConn{conn}, err
}
func (p *pgxPool) Ping(ctx context.Context) error {
	return p.base.Ping(ctx)
}

func Wrap(p *pgxpool.Pool) Pool {
	return &pgxPool{p}
}
