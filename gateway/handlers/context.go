package handlers

import (
	"context"
	"net/http"

	dcontext "github.com/famgallery/mediagate/context"
	"github.com/famgallery/mediagate/gateway/api/errcode"
	"github.com/famgallery/mediagate/log"
)

// Context holds the request specific state shared by a media handler and the
// dispatcher that built it.
type Context struct {
	// App points to the application structure that created this context.
	App *App
	context.Context

	// Errors is a collection of errors encountered during the request to be
	// returned to the client API. If errors are added to the collection, the
	// handler *must not* start the response via http.ResponseWriter.
	Errors errcode.Errors
}

// dispatchFunc takes a context and request and returns a constructed handler
// for the route. The dispatcher will use this to dynamically create request
// specific handlers for each endpoint without creating a new router for each
// request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// dispatcher returns a handler that constructs a request specific context and
// handler, using the dispatch factory function.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if identity := dcontext.GetIdentity(ctx); identity != "" {
			l := log.GetLogger(log.WithContext(ctx)).WithFields(log.Fields{"identity": identity})
			ctx = log.WithLogger(ctx, l)
		}

		hctx := &Context{
			App:     app,
			Context: ctx,
		}

		dispatch(hctx, r).ServeHTTP(w, r.WithContext(ctx))

		// Errors are rendered after the handler returns, so a handler that
		// appended one must not have written anything.
		if hctx.Errors.Len() > 0 {
			serveErrors(hctx, w)
		}
	})
}

func serveErrors(ctx *Context, w http.ResponseWriter) {
	l := log.GetLogger(log.WithContext(ctx))

	status := http.StatusInternalServerError
	code := errcode.ErrorCodeUnknown
	if coder, ok := ctx.Errors[0].(errcode.ErrorCoder); ok {
		code = coder.ErrorCode()
		status = code.Descriptor().HTTPStatusCode
	}

	fields := log.Fields{"code": code.String(), "status": status}
	if status >= http.StatusInternalServerError {
		l.WithError(ctx.Errors).WithFields(fields).Error("response completed with error")
	} else {
		l.WithError(ctx.Errors).WithFields(fields).Info("response completed with error")
	}

	if err := errcode.ServeJSON(w, ctx.Errors); err != nil {
		l.WithError(err).Error("error serving error json")
	}
}
