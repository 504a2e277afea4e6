package market

import (
	"context"
	"fmt"
	"time"
)

// QuoteProvider supplies the current bid/ask for a symbol.
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// Quote fetches the current pricing for a single instrument.
func (p *RESTProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	q, err := p.fetchQuote(ctx, symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: fetch quote %s: %v", ErrDataUnavailable, symbol, err)
	}
	return q, nil
}

// Quote derives the current synthetic quote from the generated walk.
func (p *SimProvider) Quote(ctx context.Context, symbol string) (Quote, error) {
	snap, err := p.GetSnapshot(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	return snap.Quote, nil
}

// QuoteFeed serves quotes stream-first: a fresh websocket tick wins, anything
// older than MaxAge falls back to the REST provider.
type QuoteFeed struct {
	stream *PriceStream
	rest   QuoteProvider
	maxAge time.Duration
	now    func() time.Time
}

// NewQuoteFeed composes a quote source. Either the stream or the REST
// provider may be nil, but not both.
func NewQuoteFeed(stream *PriceStream, rest QuoteProvider, maxAge time.Duration) *QuoteFeed {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &QuoteFeed{stream: stream, rest: rest, maxAge: maxAge, now: time.Now}
}

// Quote returns the freshest quote available for the symbol.
func (f *QuoteFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	if f.stream != nil {
		if q, ok := f.stream.LatestQuote(symbol); ok {
			if f.now().Sub(q.Time) <= f.maxAge {
				return q, nil
			}
		}
	}
	if f.rest == nil {
		return Quote{}, fmt.Errorf("%w: no quote source for %s", ErrDataUnavailable, symbol)
	}
	return f.rest.Quote(ctx, symbol)
}
