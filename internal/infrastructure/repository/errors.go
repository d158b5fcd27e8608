package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
)

const storeName = "postgres"

// classifyError maps driver errors onto application error types so the
// read-through retrier can tell transient failures from permanent ones.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperrors.NewNetworkError(storeName, operation+" timed out").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return apperrors.NewInternalError(operation + " canceled").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			// connection exception class
			return apperrors.NewNetworkError(storeName, pgErr.Message).WithCause(err)
		case strings.HasPrefix(pgErr.Code, "53"),
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03",
			pgErr.Code == "40001", pgErr.Code == "40P01":
			return apperrors.NewServiceUnavailableError(storeName, pgErr.Message).WithCause(err)
		case pgErr.Code == "57014":
			// statement_timeout
			return apperrors.NewNetworkError(storeName, "statement timeout").WithCause(err)
		default:
			return apperrors.NewInternalError(operation + " failed").
				WithCause(err).
				WithDetails(map[string]interface{}{"sqlstate": pgErr.Code})
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewNetworkError(storeName, netErr.Error()).WithCause(err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperrors.NewNetworkError(storeName, "connect failed").WithCause(err)
	}

	return apperrors.NewInternalError(operation + " failed").WithCause(err)
}
