package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"puntoventa/internal/model"
	"puntoventa/internal/store/config"
)

type Store interface {
	SeriesNext(ctx context.Context, serie model.Serie) (int64, error)
	SeriesLast(ctx context.Context, serie model.Serie) (int64, error)
	ComprobantePost(ctx context.Context, c model.Comprobante) error
	ComprobantePut(ctx context.Context, c model.Comprobante) error
	ComprobanteGet(ctx context.Context, serie model.Serie, numero int64) (model.Comprobante, error)
	ComprobanteGetByReferencia(ctx context.Context, referencia uuid.UUID) (model.Comprobante, error)
	CajaAbrir(ctx context.Context, sesion model.CajaSesion) error
	CajaAbierta(ctx context.Context) (model.CajaSesion, error)
	CajaGet(ctx context.Context, id uuid.UUID) (model.CajaSesion, error)
	CajaCerrar(ctx context.Context, id uuid.UUID, saldoDeclarado decimal.Decimal, fechaCierre time.Time) (model.CajaSesion, error)
	MovimientoPost(ctx context.Context, mov model.Movimiento) (decimal.Decimal, error)
	MovimientosGet(ctx context.Context, sesionID uuid.UUID) ([]model.Movimiento, error)
}

var (
	ErrNoRows             = errors.New("no rows")
	ErrAlreadyExists      = errors.New("already exists")
	ErrSesionAbierta      = errors.New("caja session already open")
	ErrSesionNoAbierta    = errors.New("caja session not open")
	ErrAllocationConflict = errors.New("sequence allocation conflict")
)

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Series counter table. One row per (punto de venta, tipo); the row is
	// only ever touched by the atomic upsert-increment in SeriesNext.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS secuencia (" +
			" punto_venta INTEGER," +
			" tipo_comprobante INTEGER," +
			" ultimo_numero BIGINT NOT NULL," +
			" PRIMARY KEY (punto_venta, tipo_comprobante)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Comprobante table. One row per allocated number, keyed by the sale
	// reference; estado moves pendiente -> emitido | rechazado.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS comprobante (" +
			" referencia UUID PRIMARY KEY," +
			" punto_venta INTEGER NOT NULL," +
			" tipo_comprobante INTEGER NOT NULL," +
			" numero BIGINT NOT NULL," +
			" fecha TIMESTAMP NOT NULL," +
			" doc_tipo INTEGER NOT NULL," +
			" doc_nro VARCHAR (11) NOT NULL," +
			" nombre TEXT NOT NULL," +
			" items JSONB NOT NULL," +
			" importe_total NUMERIC (12,2) NOT NULL," +
			" importe_neto NUMERIC (12,2) NOT NULL," +
			" importe_iva NUMERIC (12,2) NOT NULL," +
			" estado VARCHAR (10) NOT NULL," +
			" cae VARCHAR (14) NOT NULL DEFAULT ''," +
			" cae_vencimiento TIMESTAMP," +
			" observaciones JSONB NOT NULL DEFAULT '[]'," +
			" qr_url TEXT NOT NULL DEFAULT ''," +
			" leyenda TEXT NOT NULL DEFAULT ''," +
			" UNIQUE (punto_venta, tipo_comprobante, numero)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Caja session table. The partial unique index is what enforces the
	// single-open-session rule, not application code.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS caja_sesion (" +
			" id UUID PRIMARY KEY," +
			" estado VARCHAR (10) NOT NULL," +
			" fecha_apertura TIMESTAMP NOT NULL," +
			" fecha_cierre TIMESTAMP," +
			" saldo_inicial NUMERIC (12,2) NOT NULL," +
			" saldo_actual NUMERIC (12,2) NOT NULL," +
			" saldo_declarado NUMERIC (12,2)," +
			" diferencia NUMERIC (12,2)" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS caja_sesion_abierta" +
			" ON caja_sesion (estado) WHERE estado = 'abierta';")
	if err != nil {
		return nil, err
	}

	// Movement table. Append-only; orden breaks timestamp ties.
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS movimiento (" +
			" id UUID PRIMARY KEY," +
			" sesion UUID NOT NULL," +
			" orden SERIAL," +
			" tipo VARCHAR (10) NOT NULL," +
			" monto NUMERIC (12,2) NOT NULL," +
			" descripcion TEXT NOT NULL," +
			" forma_pago VARCHAR (30) NOT NULL," +
			" fecha TIMESTAMP NOT NULL," +
			" comprobante VARCHAR (20) NOT NULL DEFAULT ''," +
			" items JSONB NOT NULL DEFAULT '[]'" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{database: db}, nil
}

// SeriesNext increments and returns the series counter in a single statement,
// so concurrent callers can never draw the same number.
func (store *store) SeriesNext(ctx context.Context, serie model.Serie) (int64, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO secuencia (punto_venta, tipo_comprobante, ultimo_numero)"+
			" VALUES ($1, $2, 1)"+
			" ON CONFLICT (punto_venta, tipo_comprobante)"+
			" DO UPDATE SET ultimo_numero = secuencia.ultimo_numero + 1"+
			" RETURNING ultimo_numero",
		serie.PuntoVenta,
		serie.TipoComprobante)

	var numero int64
	err := row.Scan(&numero)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// serialization_failure / deadlock_detected
			if pgErr.Code == "40001" || pgErr.Code == "40P01" {
				return 0, ErrAllocationConflict
			}
		}
		return 0, err
	}
	return numero, nil
}

// SeriesLast reads the stored counter without advancing it. Used to resolve
// an ambiguous allocation after a confirmed failure.
func (store *store) SeriesLast(ctx context.Context, serie model.Serie) (int64, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT ultimo_numero FROM secuencia"+
			" WHERE punto_venta = $1"+
			"   AND tipo_comprobante = $2",
		serie.PuntoVenta,
		serie.TipoComprobante)

	var numero int64
	err := row.Scan(&numero)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return numero, nil
}

func (store *store) ComprobantePost(ctx context.Context, c model.Comprobante) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return err
	}
	obs, err := json.Marshal(observaciones(c.Observaciones))
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"INSERT INTO comprobante (referencia, punto_venta, tipo_comprobante, numero, fecha,"+
			" doc_tipo, doc_nro, nombre, items, importe_total, importe_neto, importe_iva,"+
			" estado, cae, cae_vencimiento, observaciones, qr_url, leyenda)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)",
		c.Referencia,
		c.Serie.PuntoVenta,
		c.Serie.TipoComprobante,
		c.Numero,
		c.Fecha,
		c.Comprador.DocTipo,
		c.Comprador.DocNro,
		c.Comprador.Nombre,
		items,
		c.ImporteTotal,
		c.ImporteNeto,
		c.ImporteIVA,
		c.Estado,
		c.CAE,
		nullTime(c.CAEVencimiento),
		obs,
		c.QRURL,
		c.Leyenda)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrAlreadyExists
			}
		}
		return err
	}
	return nil
}

// ComprobantePut records the outcome of the authority call. Only estado and
// the authorization fields move; the draft content stays as posted.
func (store *store) ComprobantePut(ctx context.Context, c model.Comprobante) error {
	obs, err := json.Marshal(observaciones(c.Observaciones))
	if err != nil {
		return err
	}

	_, err = store.database.ExecContext(ctx,
		"UPDATE comprobante"+
			" SET estado = $1, cae = $2, cae_vencimiento = $3, observaciones = $4,"+
			" qr_url = $5, leyenda = $6"+
			" WHERE referencia = $7",
		c.Estado,
		c.CAE,
		nullTime(c.CAEVencimiento),
		obs,
		c.QRURL,
		c.Leyenda,
		c.Referencia)
	return err
}

const comprobanteColumns = "referencia, punto_venta, tipo_comprobante, numero, fecha," +
	" doc_tipo, doc_nro, nombre, items, importe_total, importe_neto, importe_iva," +
	" estado, cae, cae_vencimiento, observaciones, qr_url, leyenda"

func (store *store) ComprobanteGet(ctx context.Context, serie model.Serie, numero int64) (model.Comprobante, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+comprobanteColumns+
			" FROM comprobante"+
			" WHERE punto_venta = $1"+
			"   AND tipo_comprobante = $2"+
			"   AND numero = $3",
		serie.PuntoVenta,
		serie.TipoComprobante,
		numero)
	return scanComprobante(row)
}

func (store *store) ComprobanteGetByReferencia(ctx context.Context, referencia uuid.UUID) (model.Comprobante, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+comprobanteColumns+
			" FROM comprobante"+
			" WHERE referencia = $1",
		referencia)
	return scanComprobante(row)
}

func scanComprobante(row *sql.Row) (model.Comprobante, error) {
	var c model.Comprobante
	var items, obs []byte
	var vencimiento sql.NullTime
	err := row.Scan(&c.Referencia,
		&c.Serie.PuntoVenta,
		&c.Serie.TipoComprobante,
		&c.Numero,
		&c.Fecha,
		&c.Comprador.DocTipo,
		&c.Comprador.DocNro,
		&c.Comprador.Nombre,
		&items,
		&c.ImporteTotal,
		&c.ImporteNeto,
		&c.ImporteIVA,
		&c.Estado,
		&c.CAE,
		&vencimiento,
		&obs,
		&c.QRURL,
		&c.Leyenda)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Comprobante{}, ErrNoRows
		}
		return model.Comprobante{}, err
	}
	if vencimiento.Valid {
		c.CAEVencimiento = vencimiento.Time
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return model.Comprobante{}, err
	}
	if err := json.Unmarshal(obs, &c.Observaciones); err != nil {
		return model.Comprobante{}, err
	}
	return c, nil
}

func (store *store) CajaAbrir(ctx context.Context, sesion model.CajaSesion) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO caja_sesion (id, estado, fecha_apertura, saldo_inicial, saldo_actual)"+
			" VALUES ($1, $2, $3, $4, $5)",
		sesion.ID,
		sesion.Estado,
		sesion.FechaApertura,
		sesion.SaldoInicial,
		sesion.SaldoActual)
	if err != nil {
		// unique index caja_sesion_abierta
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrSesionAbierta
			}
		}
		return err
	}
	return nil
}

const cajaColumns = "id, estado, fecha_apertura, fecha_cierre, saldo_inicial," +
	" saldo_actual, saldo_declarado, diferencia"

func (store *store) CajaAbierta(ctx context.Context) (model.CajaSesion, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT " + cajaColumns +
			" FROM caja_sesion" +
			" WHERE estado = 'abierta'")
	return scanCaja(row)
}

func (store *store) CajaGet(ctx context.Context, id uuid.UUID) (model.CajaSesion, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+cajaColumns+
			" FROM caja_sesion"+
			" WHERE id = $1",
		id)
	return scanCaja(row)
}

func scanCaja(row *sql.Row) (model.CajaSesion, error) {
	var s model.CajaSesion
	var cierre sql.NullTime
	var declarado, diferencia decimal.NullDecimal
	err := row.Scan(&s.ID,
		&s.Estado,
		&s.FechaApertura,
		&cierre,
		&s.SaldoInicial,
		&s.SaldoActual,
		&declarado,
		&diferencia)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.CajaSesion{}, ErrNoRows
		}
		return model.CajaSesion{}, err
	}
	if cierre.Valid {
		s.FechaCierre = &cierre.Time
	}
	if declarado.Valid {
		s.SaldoDeclarado = &declarado.Decimal
	}
	if diferencia.Valid {
		s.Diferencia = &diferencia.Decimal
	}
	return s, nil
}

// CajaCerrar closes the session in one statement: diferencia is computed
// in-database against the authoritative saldo_actual, which stays frozen.
func (store *store) CajaCerrar(ctx context.Context, id uuid.UUID, saldoDeclarado decimal.Decimal, fechaCierre time.Time) (model.CajaSesion, error) {
	row := store.database.QueryRowContext(ctx,
		"UPDATE caja_sesion"+
			" SET estado = 'cerrada', fecha_cierre = $1, saldo_declarado = $2,"+
			" diferencia = $2 - saldo_actual"+
			" WHERE id = $3"+
			"   AND estado = 'abierta'"+
			" RETURNING "+cajaColumns,
		fechaCierre,
		saldoDeclarado,
		id)
	s, err := scanCaja(row)
	if err != nil {
		if err == ErrNoRows {
			return model.CajaSesion{}, ErrSesionNoAbierta
		}
		return model.CajaSesion{}, err
	}
	return s, nil
}

// MovimientoPost appends the movement and moves the session balance in one
// transaction. The balance update is an in-database increment guarded by the
// estado check, so a lost update or a half-applied movement is impossible.
func (store *store) MovimientoPost(ctx context.Context, mov model.Movimiento) (decimal.Decimal, error) {
	delta := mov.Monto
	if mov.Tipo == model.MovimientoEgreso {
		delta = delta.Neg()
	}

	items, err := json.Marshal(itemsOrEmpty(mov.Items))
	if err != nil {
		return decimal.Zero, err
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"UPDATE caja_sesion"+
			" SET saldo_actual = saldo_actual + $1"+
			" WHERE id = $2"+
			"   AND estado = 'abierta'"+
			" RETURNING saldo_actual",
		delta,
		mov.SesionID)
	var saldo decimal.Decimal
	err = row.Scan(&saldo)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrSesionNoAbierta
		}
		return decimal.Zero, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO movimiento (id, sesion, tipo, monto, descripcion, forma_pago, fecha, comprobante, items)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		mov.ID,
		mov.SesionID,
		mov.Tipo,
		mov.Monto,
		mov.Descripcion,
		mov.FormaPago,
		mov.Fecha,
		mov.Comprobante,
		items)
	if err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return saldo, nil
}

func (store *store) MovimientosGet(ctx context.Context, sesionID uuid.UUID) ([]model.Movimiento, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, sesion, tipo, monto, descripcion, forma_pago, fecha, comprobante, items"+
			" FROM movimiento"+
			" WHERE sesion = $1"+
			" ORDER BY fecha, orden",
		sesionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movs []model.Movimiento
	for rows.Next() {
		var mov model.Movimiento
		var items []byte
		err := rows.Scan(&mov.ID,
			&mov.SesionID,
			&mov.Tipo,
			&mov.Monto,
			&mov.Descripcion,
			&mov.FormaPago,
			&mov.Fecha,
			&mov.Comprobante,
			&items)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &mov.Items); err != nil {
			return nil, err
		}
		movs = append(movs, mov)
	}
	return movs, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func observaciones(obs []string) []string {
	if obs == nil {
		return []string{}
	}
	return obs
}

func itemsOrEmpty(items []model.Item) []model.Item {
	if items == nil {
		return []model.Item{}
	}
	return items
}
