package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"persona-rag/internal/models"
	"persona-rag/internal/persona"
)

// Registry owns one pipeline per available persona
type Registry struct {
	catalogue *persona.Catalogue
	pipelines map[string]*Pipeline
}

// NewRegistry creates an uninitialized pipeline for every available persona
// in the catalogue.
func NewRegistry(catalogue *persona.Catalogue, deps Dependencies, opts Options) (*Registry, error) {
	r := &Registry{catalogue: catalogue, pipelines: make(map[string]*Pipeline)}
	for _, p := range catalogue.Available() {
		pl, err := NewPipeline(p, deps, opts)
		if err != nil {
			return nil, err
		}
		r.pipelines[p.ID] = pl
	}
	log.Debug().Int("pipelines", len(r.pipelines)).Msg("Created persona registry")
	return r, nil
}

// Get returns the pipeline for id
func (r *Registry) Get(id string) (*Pipeline, error) {
	const op = "rag.Registry.Get"
	if pl, ok := r.pipelines[id]; ok {
		return pl, nil
	}
	if _, ok := r.catalogue.Get(id); ok {
		return nil, models.NewError(models.KindConfiguration, op, fmt.Errorf("%w: %s", models.ErrPersonaUnavailable, id))
	}
	return nil, models.NewError(models.KindConfiguration, op, fmt.Errorf("%w: %s", models.ErrPersonaNotFound, id))
}

// Query routes a question to the persona's pipeline
func (r *Registry) Query(ctx context.Context, id, question string) (*models.QueryResult, error) {
	pl, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return pl.Query(ctx, question)
}

// Personas lists the queryable profiles in catalogue order
func (r *Registry) Personas() []persona.Profile {
	return r.catalogue.Available()
}

// Warmup sets up every pipeline. All pipelines are attempted; the returned
// error joins the individual failures.
func (r *Registry) Warmup(ctx context.Context) error {
	var errs []error
	for _, p := range r.catalogue.Available() {
		pl := r.pipelines[p.ID]
		if err := pl.Setup(ctx); err != nil {
			log.Error().Err(err).Str("persona", p.ID).Msg("Warmup failed")
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
			continue
		}
		log.Info().Str("persona", p.ID).Msg("Pipeline ready")
	}
	return errors.Join(errs...)
}
