package backend

import (
	"context"

	"gioui.org/app"
	"git.sr.ht/~gioverse/skel/stream"
	"git.sr.ht/~whereswaldon/spikescope/ingest"
)

type WindowState struct {
	Bundle
	Controller *stream.Controller
}

func NewWindowState(ctx context.Context, bundle Bundle, win *app.Window) WindowState {
	return WindowState{
		Bundle:     bundle,
		Controller: stream.NewController(ctx, win.Invalidate),
	}
}

// Bundle holds the state shared by every window.
type Bundle struct {
	Ingest     *ingest.Ingestor
	Datasource *Datasource
}

func NewBundle(ctx context.Context, in *ingest.Ingestor) Bundle {
	return Bundle{
		Ingest:     in,
		Datasource: NewDatasource(ctx, in),
	}
}
