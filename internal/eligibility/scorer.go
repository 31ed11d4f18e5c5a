// Package eligibility matches normalized subsidy records against applicant
// profiles.
package eligibility

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

// Criterion names used in reasons.
const (
	CriterionRegion    = "region"
	CriterionEntity    = "legal_entity_type"
	CriterionDeadline  = "deadline"
	CriterionSector    = "activity_category"
	CriterionSize      = "company_size"
	CriterionAmount    = "requested_amount"
	CriterionDocuments = "required_documents"
)

// Config holds penalty factors and band thresholds.
type Config struct {
	SectorFactor         float64
	SizeFactor           float64
	AmountFactor         float64
	PenaltyPerMissingDoc float64
	ReadyThreshold       float64
	NeedsActionThreshold float64
}

// DefaultConfig returns the standard factors.
func DefaultConfig() Config {
	return Config{
		SectorFactor:         0.5,
		SizeFactor:           0.7,
		AmountFactor:         0.8,
		PenaltyPerMissingDoc: 0.1,
		ReadyThreshold:       0.9,
		NeedsActionThreshold: 0.3,
	}
}

// nationwide region markers match every applicant region.
var nationwide = map[string]struct{}{
	"all": {}, "any": {}, "national": {}, "nationwide": {}, "all regions": {},
	"toutes régions": {}, "toutes les régions": {}, "france entière": {}, "bundesweit": {},
}

// Scorer computes eligibility scores. It is pure apart from the clock.
type Scorer struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// NewScorer creates a Scorer; zero fields take their defaults.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.SectorFactor <= 0 {
		cfg.SectorFactor = def.SectorFactor
	}
	if cfg.SizeFactor <= 0 {
		cfg.SizeFactor = def.SizeFactor
	}
	if cfg.AmountFactor <= 0 {
		cfg.AmountFactor = def.AmountFactor
	}
	if cfg.PenaltyPerMissingDoc <= 0 {
		cfg.PenaltyPerMissingDoc = def.PenaltyPerMissingDoc
	}
	if cfg.ReadyThreshold <= 0 {
		cfg.ReadyThreshold = def.ReadyThreshold
	}
	if cfg.NeedsActionThreshold <= 0 {
		cfg.NeedsActionThreshold = def.NeedsActionThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, log: logger, now: time.Now}
}

// WithClock returns a copy of the scorer using now for deadline checks.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	c := *s
	c.now = now
	return &c
}

// scoring accumulates factors and their explanations.
type scoring struct {
	score   float64
	reasons []entity.Reason
	actions []string
}

func (sc *scoring) hard(criterion, msg string) {
	sc.score = 0
	sc.reasons = append(sc.reasons, entity.Reason{Criterion: criterion, Hard: true, Factor: 0, Message: msg})
}

func (sc *scoring) soft(criterion string, factor float64, msg string) {
	sc.score *= factor
	sc.reasons = append(sc.reasons, entity.Reason{Criterion: criterion, Factor: factor, Message: msg})
}

func (sc *scoring) action(format string, args ...any) {
	sc.actions = append(sc.actions, fmt.Sprintf(format, args...))
}

// Score evaluates every criterion independently. Hard criteria zero the
// score; soft criteria multiply it by their factor; missing documents
// multiply by max(0, 1 - n*penalty). The result is clamped to [0, 1].
func (s *Scorer) Score(profile entity.ApplicantProfile, record *entity.NormalizedRecord) *entity.EligibilityScore {
	sc := &scoring{score: 1}
	rv := view{record}

	s.region(sc, profile, rv)
	s.legalEntity(sc, profile, rv)
	deadline := s.deadline(sc, rv)
	s.sector(sc, profile, rv)
	s.size(sc, profile, rv)
	funding := s.amount(sc, profile, rv)
	s.documents(sc, profile, rv)

	out := &entity.EligibilityScore{
		ProfileID:       profile.ID,
		Score:           utils.Clamp01(sc.score),
		BlockingReasons: sc.reasons,
		RequiredActions: sc.actions,
		FundingAmount:   funding,
		Deadline:        deadline,
		ComputedAt:      s.now().UTC(),
	}
	if record != nil {
		out.RecordID = record.ID
		out.RecordVersion = record.Version
	}
	if out.BlockingReasons == nil {
		out.BlockingReasons = []entity.Reason{}
	}
	if out.RequiredActions == nil {
		out.RequiredActions = []string{}
	}
	out.Band = s.Band(out.Score)
	s.log.Debug("eligibility.scored",
		"profile_id", profile.ID,
		"record_id", out.RecordID,
		"score", out.Score,
		"band", out.Band)
	return out
}

// Band maps a score onto its threshold band.
func (s *Scorer) Band(score float64) entity.Band {
	switch {
	case score >= s.cfg.ReadyThreshold:
		return entity.BandReady
	case score >= s.cfg.NeedsActionThreshold:
		return entity.BandNeedsAction
	}
	return entity.BandNotEligible
}

func (s *Scorer) region(sc *scoring, p entity.ApplicantProfile, rv view) {
	regions := rv.strings("region")
	if len(regions) == 0 {
		sc.action("Confirm the program's geographic scope")
		return
	}
	if strings.TrimSpace(p.Region) == "" {
		sc.action("Provide the applicant's region")
		return
	}
	for _, r := range regions {
		if _, ok := nationwide[utils.Fold(r)]; ok || regionMatch(r, p.Region) {
			return
		}
	}
	sc.hard(CriterionRegion, fmt.Sprintf("Region %q is outside the eligible regions (%s)", p.Region, strings.Join(regions, ", ")))
}

func (s *Scorer) legalEntity(sc *scoring, p entity.ApplicantProfile, rv view) {
	entities := rv.strings("eligible_entities")
	if len(entities) == 0 {
		return
	}
	if strings.TrimSpace(p.LegalEntityType) == "" {
		sc.action("Provide the applicant's legal entity type (eligible: %s)", strings.Join(entities, ", "))
		return
	}
	for _, e := range entities {
		if wordMatch(e, p.LegalEntityType) {
			return
		}
	}
	sc.hard(CriterionEntity, fmt.Sprintf("Legal entity type %q is not eligible (eligible: %s)", p.LegalEntityType, strings.Join(entities, ", ")))
}

func (s *Scorer) deadline(sc *scoring, rv view) *string {
	d := rv.firstDate("deadline", "application_deadline", "closing_date")
	if d == nil {
		sc.action("Confirm the application deadline")
		return nil
	}
	t, err := utils.ParseYMD(*d)
	if err != nil {
		return d
	}
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if t.Before(today) {
		sc.hard(CriterionDeadline, fmt.Sprintf("Application deadline %s has passed", *d))
	}
	return d
}

func (s *Scorer) sector(sc *scoring, p entity.ApplicantProfile, rv view) {
	cats := rv.strings("activity_categories")
	if len(cats) == 0 || len(p.ActivityCategories) == 0 {
		return
	}
	for _, c := range cats {
		for _, mine := range p.ActivityCategories {
			if looseMatch(c, mine) {
				return
			}
		}
	}
	sc.soft(CriterionSector, s.cfg.SectorFactor,
		fmt.Sprintf("No overlap between activities (%s) and eligible categories (%s)",
			strings.Join(p.ActivityCategories, ", "), strings.Join(cats, ", ")))
	sc.action("Show that the project fits one of: %s", strings.Join(cats, ", "))
}

func (s *Scorer) size(sc *scoring, p entity.ApplicantProfile, rv view) {
	if p.Employees <= 0 {
		return
	}
	lo, hasLo := rv.number("company_size_min")
	hi, hasHi := rv.number("company_size_max")
	n := float64(p.Employees)
	switch {
	case hasLo && n < lo:
		sc.soft(CriterionSize, s.cfg.SizeFactor, fmt.Sprintf("%d employees is below the minimum of %.0f", p.Employees, lo))
	case hasHi && n > hi:
		sc.soft(CriterionSize, s.cfg.SizeFactor, fmt.Sprintf("%d employees exceeds the maximum of %.0f", p.Employees, hi))
	}
}

func (s *Scorer) amount(sc *scoring, p entity.ApplicantProfile, rv view) *entity.Money {
	funding := rv.firstMoney("amount_max", "amount")
	if funding == nil || p.RequestedAmount <= 0 {
		return funding
	}
	if p.RequestedAmount > funding.Amount {
		sc.soft(CriterionAmount, s.cfg.AmountFactor,
			fmt.Sprintf("Requested %.0f exceeds the funding cap of %.0f", p.RequestedAmount, funding.Amount))
		sc.action("Reduce the requested amount to at most %.0f %s", funding.Amount, funding.Currency)
	}
	return funding
}

func (s *Scorer) documents(sc *scoring, p entity.ApplicantProfile, rv view) {
	required := rv.strings("required_documents")
	if len(required) == 0 {
		return
	}
	have := make(map[string]struct{}, len(p.Documents))
	for _, d := range p.Documents {
		have[utils.Fold(d)] = struct{}{}
	}
	var missing []string
	for _, d := range required {
		if _, ok := have[utils.Fold(d)]; !ok {
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return
	}
	factor := 1 - float64(len(missing))*s.cfg.PenaltyPerMissingDoc
	if factor < 0 {
		factor = 0
	}
	sc.soft(CriterionDocuments, factor, fmt.Sprintf("%d required document(s) missing", len(missing)))
	for _, d := range missing {
		sc.action("Provide document: %s", d)
	}
}

// Ranked holds the two result sets callers show. Not-eligible records are
// excluded from both.
type Ranked struct {
	Ready       []*entity.EligibilityScore `json:"ready"`
	NeedsAction []*entity.EligibilityScore `json:"needs_action"`
}

// Rank scores every record and orders each band by score descending, then
// earliest deadline (unknown deadlines last), then record ID.
func (s *Scorer) Rank(profile entity.ApplicantProfile, records []*entity.NormalizedRecord) Ranked {
	out := Ranked{Ready: []*entity.EligibilityScore{}, NeedsAction: []*entity.EligibilityScore{}}
	for _, r := range records {
		sc := s.Score(profile, r)
		switch sc.Band {
		case entity.BandReady:
			out.Ready = append(out.Ready, sc)
		case entity.BandNeedsAction:
			out.NeedsAction = append(out.NeedsAction, sc)
		}
	}
	sortScores(out.Ready)
	sortScores(out.NeedsAction)
	return out
}

func sortScores(list []*entity.EligibilityScore) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		switch {
		case a.Deadline != nil && b.Deadline == nil:
			return true
		case a.Deadline == nil && b.Deadline != nil:
			return false
		case a.Deadline != nil && *a.Deadline != *b.Deadline:
			return *a.Deadline < *b.Deadline
		}
		return a.RecordID.String() < b.RecordID.String()
	})
}

// regionPrefixes are administrative designators dropped before comparing
// region names, so "Région Bretagne" equals "Bretagne".
var regionPrefixes = []string{
	"région ", "region ", "département ", "departement ", "province of ",
	"province ", "state of ", "county of ", "county ", "canton ", "land ",
	"bundesland ", "comunidad de ", "regione ",
}

// regionKey folds a region name and strips one administrative prefix.
func regionKey(s string) string {
	k := utils.Fold(s)
	for _, p := range regionPrefixes {
		if rest, ok := strings.CutPrefix(k, p); ok && strings.TrimSpace(rest) != "" {
			return strings.TrimSpace(rest)
		}
	}
	return k
}

// regionMatch is equality on region keys. Containment is not enough:
// "Northern Ireland" does not cover "Ireland".
func regionMatch(declared, applicant string) bool {
	a, b := regionKey(declared), regionKey(applicant)
	return a != "" && a == b
}

// wordMatch accepts equal values, or every word of the shorter value
// appearing as a whole word in the longer one ("association" ~ "non-profit
// association", but not "sme" ~ "smes").
func wordMatch(a, b string) bool {
	wa, wb := words(a), words(b)
	if len(wa) == 0 || len(wb) == 0 {
		return false
	}
	if len(wa) > len(wb) {
		wa, wb = wb, wa
	}
	have := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		have[w] = struct{}{}
	}
	for _, w := range wa {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

func words(s string) []string {
	return strings.FieldsFunc(utils.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// looseMatch compares case-folded values, accepting containment either way
// for values of three or more characters. Only soft criteria use it.
func looseMatch(a, b string) bool {
	a, b = utils.Fold(a), utils.Fold(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len([]rune(a)) < 3 || len([]rune(b)) < 3 {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// view reads typed values from a possibly nil record.
type view struct {
	r *entity.NormalizedRecord
}

func (v view) strings(name string) []string {
	f, ok := v.r.Field(name)
	if !ok || f.ShapeMismatch {
		return nil
	}
	if f.Value.Text != nil && *f.Value.Text != "" {
		return []string{*f.Value.Text}
	}
	return f.Value.Strings
}

func (v view) number(name string) (float64, bool) {
	f, ok := v.r.Field(name)
	if !ok || f.Value.Number == nil {
		return 0, false
	}
	return *f.Value.Number, true
}

func (v view) firstDate(names ...string) *string {
	for _, n := range names {
		if f, ok := v.r.Field(n); ok && f.Value.Date != nil {
			d := *f.Value.Date
			return &d
		}
	}
	return nil
}

func (v view) firstMoney(names ...string) *entity.Money {
	for _, n := range names {
		if f, ok := v.r.Field(n); ok && f.Value.Money != nil {
			m := *f.Value.Money
			return &m
		}
	}
	return nil
}
