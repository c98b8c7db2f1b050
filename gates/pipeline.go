package gates

import (
	"context"
	"encoding/json"
	"image"
	"time"

	"assetgate/embedding"
	"assetgate/logger"
	"assetgate/models"
	"assetgate/references"
	"assetgate/similarity"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Gate interface {
	Name() string
	Threshold(cfg *models.GateConfig) float64
	Evaluate(ctx context.Context, s *Subject) (Outcome, error)
}

// Curator is the part of references.Curator the pipeline needs
type Curator interface {
	ActiveReferences(ctx context.Context, character, model string) ([]references.ActiveReference, error)
	AddReference(ctx context.Context, ref references.NewReference) (bool, error)
}

type ResultStore interface {
	SaveRun(ctx context.Context, v *Verdict) error
}

// Subject is what the gates of one run share. Earlier gates fill in what
// later ones reuse (bytes, decoded image, embedding).
type Subject struct {
	Asset      *models.Asset
	Character  string
	Config     *models.GateConfig
	Image      []byte
	Embedding  *embedding.Result
	References []references.ActiveReference
	Identity   *similarity.Result

	decoded image.Image
}

type GateError struct {
	Gate   string `json:"gate"`
	Reason string `json:"reason"`
}

type Verdict struct {
	RunID         string               `json:"run_id"`
	AssetID       uint64               `json:"asset_id"`
	Character     string               `json:"character,omitempty"`
	ConfigName    string               `json:"config_name"`
	ConfigVersion int                  `json:"config_version"`
	Status        models.QualityStatus `json:"status"`
	Passed        bool                 `json:"passed"`
	Score         float64              `json:"score"`
	FailedGate    string               `json:"failed_gate,omitempty"`
	Results       []GateResult         `json:"results"`
	Error         *GateError           `json:"error,omitempty"`
	Promoted      bool                 `json:"promoted"`
	Timestamp     int64                `json:"timestamp"`
}

// Result returns the result of the named gate, nil when it did not run
func (v *Verdict) Result(gate string) *GateResult {
	for i := range v.Results {
		if v.Results[i].Gate == gate {
			return &v.Results[i]
		}
	}
	return nil
}

// Scores are the sub-scores cached on the asset
func (v *Verdict) Scores() models.Scores {
	score := func(gate string) *float64 {
		if r := v.Result(gate); r != nil {
			s := r.Score()
			return &s
		}
		return nil
	}
	return models.Scores{
		Technical:   score(GateTechnical),
		Visual:      score(GateVisual),
		Consistency: score(GateIdentity),
	}
}

// settle derives the status and the overall score from the executed gates
func (v *Verdict) settle(cfg *models.GateConfig) {
	var sum, weights float64
	for _, r := range v.Results {
		w := cfg.GateWeight(r.Gate)
		sum += w * r.Score()
		weights += w
	}
	if weights > 0 {
		v.Score = sum / weights
	}

	var last *GateResult
	if len(v.Results) > 0 {
		last = &v.Results[len(v.Results)-1]
	}
	switch {
	case v.Error != nil:
		v.Status = models.StatusFailed
		v.FailedGate = v.Error.Gate
	case last != nil && !last.Passed():
		v.FailedGate = last.Gate
		v.Status = models.StatusFailed
		if !cfg.AutoFailOnThreshold && last.Reason() == ReasonBelowThreshold {
			v.Status = models.StatusManualReview
		}
	default:
		v.Passed = true
		v.Status = models.StatusPassed
		if cfg.RequireManualReview {
			v.Status = models.StatusManualReview
		}
	}
}

type Pipeline struct {
	log     *logger.Logger
	gates   map[State]Gate
	curator Curator
	store   ResultStore
}

func NewPipeline(log *logger.Logger, loader Loader, embedder embedding.Embedder, curator Curator, store ResultStore) *Pipeline {
	return &Pipeline{
		log: log.With("component", "pipeline"),
		gates: map[State]Gate{
			StateTechnical: &technicalGate{load: loader},
			StateVisual:    &visualGate{},
			StateIdentity:  &identityGate{embedder: embedder, curator: curator},
			StateStyle:     &styleGate{},
		},
		curator: curator,
		store:   store,
	}
}

// Run takes the asset through the gates until one fails or all pass, stores
// the executed results and promotes the asset when its identity score allows
// it. An infrastructure error aborts the gate it happened in: the verdict is
// still stored as failed and the error is returned as well. A failed
// promotion returns the stored verdict with the error so the caller can
// retry. A cancelled context stores nothing.
func (p *Pipeline) Run(ctx context.Context, asset *models.Asset, character string, cfg models.GateConfig) (*Verdict, error) {
	v := &Verdict{
		RunID:         uuid.NewString(),
		AssetID:       asset.ID,
		Character:     character,
		ConfigName:    cfg.Name,
		ConfigVersion: cfg.Version,
		Results:       []GateResult{},
	}
	s := &Subject{Asset: asset, Character: character, Config: &cfg}
	log := p.log.With("run_id", v.RunID, "asset_id", asset.ID, "character", character)

	var runErr error
	for state := StateTechnical; !state.Terminal(); {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "pipeline cancelled", goerr.V("asset_id", asset.ID), goerr.V("gate", state.String()))
		}
		gate := p.gates[state]
		start := time.Now()
		outcome, err := gate.Evaluate(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, goerr.Wrap(ctx.Err(), "pipeline cancelled", goerr.V("asset_id", asset.ID), goerr.V("gate", gate.Name()))
			}
			log.Error("gate aborted", "gate", gate.Name(), "error", err)
			v.Error = &GateError{Gate: gate.Name(), Reason: err.Error()}
			runErr = goerr.Wrap(err, "gate aborted", goerr.V("asset_id", asset.ID), goerr.V("gate", gate.Name()))
			break
		}
		v.Results = append(v.Results, GateResult{
			Gate:      gate.Name(),
			Outcome:   outcome,
			Threshold: gate.Threshold(&cfg),
			Duration:  time.Since(start),
		})
		state = transition(state, outcome)
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "pipeline cancelled", goerr.V("asset_id", asset.ID))
	}

	v.settle(&cfg)
	v.Timestamp = time.Now().UnixMilli()
	if err := p.store.SaveRun(ctx, v); err != nil {
		return v, goerr.Wrap(err, "failed to store results", goerr.V("asset_id", asset.ID), goerr.V("run_id", v.RunID))
	}
	if runErr == nil && p.promotable(s, v) {
		promoted, err := p.promote(ctx, s, &cfg)
		if err != nil {
			log.Error("promotion failed", "error", err)
			runErr = goerr.Wrap(err, "failed to promote asset", goerr.V("asset_id", asset.ID), goerr.V("run_id", v.RunID))
		}
		v.Promoted = promoted
	}
	log.Info("pipeline finished", "status", v.Status, "score", v.Score, "failed_gate", v.FailedGate, "promoted", v.Promoted)
	return v, runErr
}

func (p *Pipeline) promotable(s *Subject, v *Verdict) bool {
	identity := v.Result(GateIdentity)
	return identity != nil && identity.Passed() && s.Identity != nil && s.Embedding != nil &&
		references.ShouldPromote(*s.Identity, s.Config.IdentityPromotionThreshold)
}

func (p *Pipeline) promote(ctx context.Context, s *Subject, cfg *models.GateConfig) (bool, error) {
	return p.curator.AddReference(ctx, references.NewReference{
		AssetID:     s.Asset.ID,
		Character:   s.Character,
		Model:       cfg.EmbeddingModel,
		Vector:      s.Embedding.Vector,
		Confidence:  s.Embedding.Confidence,
		Type:        models.ReferenceAuto,
		Weight:      cfg.DefaultReferenceWeight,
		CreatedBy:   "pipeline",
		MaxAuto:     cfg.MaxAutoReferences,
		// scored with no references: another run may have added one since
		OnlyIfFirst: s.Identity.FirstReference,
	})
}

// DBStore writes verdicts with models.SaveRun
type DBStore struct {
	DB *gorm.DB
}

func (d DBStore) SaveRun(ctx context.Context, v *Verdict) error {
	rows := make([]models.GateResult, 0, len(v.Results))
	for _, r := range v.Results {
		details, err := json.Marshal(r.Details())
		if err != nil {
			return goerr.Wrap(err, "cannot encode gate details", goerr.V("gate", r.Gate))
		}
		rows = append(rows, models.GateResult{
			RunID:         v.RunID,
			AssetID:       v.AssetID,
			GateName:      r.Gate,
			ConfigName:    v.ConfigName,
			ConfigVersion: v.ConfigVersion,
			Passed:        r.Passed(),
			Score:         r.Score(),
			Threshold:     r.Threshold,
			Details:       datatypes.JSON(details),
			DurationMs:    r.Duration.Milliseconds(),
		})
	}
	return models.SaveRun(d.DB.WithContext(ctx), v.AssetID, rows, v.Status, v.Scores())
}
