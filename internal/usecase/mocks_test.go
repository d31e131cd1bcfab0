package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/opencurate/releasehub/internal/domain"
)

var (
	adminUser   = domain.AuthenticatedUser{SubjectID: "sub-admin", DisplayName: "Alice Admin", Email: "alice@example.org"}
	managerUser = domain.AuthenticatedUser{SubjectID: "sub-manager", DisplayName: "Max Manager", Email: "max@example.org"}
	memberUser  = domain.AuthenticatedUser{SubjectID: "sub-member", DisplayName: "Mia Member", Email: "mia@example.org"}
)

type mockReleaseRepo struct {
	releases      map[string]*domain.Release
	roles         map[string]domain.Role
	participants  map[string][]domain.Participant
	knownDatasets map[string]bool
	keyCounter    int
	created       []string
}

func newMockReleaseRepo() *mockReleaseRepo {
	return &mockReleaseRepo{
		releases:      map[string]*domain.Release{},
		roles:         map[string]domain.Role{},
		participants:  map[string][]domain.Participant{},
		knownDatasets: map[string]bool{},
	}
}

func (m *mockReleaseRepo) add(r domain.Release) {
	m.releases[r.Key] = &r
}

func (m *mockReleaseRepo) grant(subjectID, releaseKey string, role domain.Role) {
	m.roles[subjectID+"|"+releaseKey] = role
}

func (m *mockReleaseRepo) NextKey(ctx context.Context, prefix string) (string, error) {
	m.keyCounter++
	return fmt.Sprintf("%s%03d", prefix, m.keyCounter), nil
}

func (m *mockReleaseRepo) Create(ctx context.Context, r domain.Release, creator domain.Participant) error {
	m.releases[r.Key] = &r
	m.participants[r.Key] = append(m.participants[r.Key], creator)
	m.roles[creator.SubjectID+"|"+r.Key] = creator.Role
	m.created = append(m.created, r.Key)
	return nil
}

func (m *mockReleaseRepo) Get(ctx context.Context, releaseKey string) (*domain.Release, error) {
	r, ok := m.releases[releaseKey]
	if !ok {
		return nil, domain.NotFoundError{Resource: "release"}
	}
	cp := *r
	return &cp, nil
}

func (m *mockReleaseRepo) GetAllForUser(ctx context.Context, subjectID string, limit, offset int) ([]domain.ReleaseSummary, int, error) {
	var out []domain.ReleaseSummary
	for key, r := range m.releases {
		role, ok := m.roles[subjectID+"|"+key]
		if !ok {
			continue
		}
		out = append(out, domain.ReleaseSummary{
			Key:           key,
			IsActivated:   r.IsActivated(),
			RoleInRelease: role,
		})
	}
	return out, len(out), nil
}

func (m *mockReleaseRepo) GetRole(ctx context.Context, subjectID, releaseKey string) (domain.Role, error) {
	role, ok := m.roles[subjectID+"|"+releaseKey]
	if !ok {
		return "", domain.ErrNotAuthorised
	}
	return role, nil
}

func (m *mockReleaseRepo) Mutate(ctx context.Context, releaseKey string, fn func(r *domain.Release) error) error {
	r, ok := m.releases[releaseKey]
	if !ok {
		return domain.NotFoundError{Resource: "release"}
	}
	cp := *r
	if err := fn(&cp); err != nil {
		return err
	}
	m.releases[releaseKey] = &cp
	return nil
}

func (m *mockReleaseRepo) MissingDatasets(ctx context.Context, uris []string) ([]string, error) {
	var missing []string
	for _, uri := range uris {
		if !m.knownDatasets[uri] {
			missing = append(missing, uri)
		}
	}
	return missing, nil
}

func (m *mockReleaseRepo) ListParticipants(ctx context.Context, releaseKey string) ([]domain.Participant, error) {
	return m.participants[releaseKey], nil
}

func (m *mockReleaseRepo) UpsertParticipant(ctx context.Context, releaseKey string, p domain.Participant) error {
	for i, have := range m.participants[releaseKey] {
		if have.Email == p.Email {
			m.participants[releaseKey][i] = p
			return nil
		}
	}
	m.participants[releaseKey] = append(m.participants[releaseKey], p)
	return nil
}

func (m *mockReleaseRepo) RemoveParticipant(ctx context.Context, releaseKey, email string) error {
	for i, have := range m.participants[releaseKey] {
		if have.Email == email {
			m.participants[releaseKey] = append(m.participants[releaseKey][:i], m.participants[releaseKey][i+1:]...)
			return nil
		}
	}
	return domain.NotFoundError{Resource: "participant"}
}

type mockSelectionRepo struct {
	cases    []domain.Case
	selected map[string]bool
	known    map[string]bool
	consent  map[string]string
	added    []string
	removed  []string
}

func newMockSelectionRepo() *mockSelectionRepo {
	return &mockSelectionRepo{
		selected: map[string]bool{},
		known:    map[string]bool{},
		consent:  map[string]string{},
	}
}

func (m *mockSelectionRepo) GetCaseTrees(ctx context.Context, datasetURIs []string) ([]domain.Case, error) {
	return m.cases, nil
}

func (m *mockSelectionRepo) GetSelectedSpecimens(ctx context.Context, releaseKey string) (map[string]bool, error) {
	out := map[string]bool{}
	for id := range m.selected {
		out[id] = true
	}
	return out, nil
}

func (m *mockSelectionRepo) ResolveSpecimenIDs(ctx context.Context, datasetURIs []string, specimenIDs []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range specimenIDs {
		if m.known[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *mockSelectionRepo) AddSelected(ctx context.Context, releaseKey string, specimenIDs []string) error {
	for _, id := range specimenIDs {
		m.selected[id] = true
	}
	m.added = append(m.added, specimenIDs...)
	return nil
}

func (m *mockSelectionRepo) RemoveSelected(ctx context.Context, releaseKey string, specimenIDs []string) error {
	for _, id := range specimenIDs {
		delete(m.selected, id)
	}
	m.removed = append(m.removed, specimenIDs...)
	return nil
}

func (m *mockSelectionRepo) GetNodeConsent(ctx context.Context, datasetURIs []string, nodeID string) (string, error) {
	statement, ok := m.consent[nodeID]
	if !ok {
		return "", domain.NotFoundError{Resource: "node"}
	}
	return statement, nil
}

type mockManifestRepo struct {
	records []ArtifactRecord
	calls   int
}

func (m *mockManifestRepo) GetSelectedArtifacts(ctx context.Context, releaseKey string) ([]ArtifactRecord, error) {
	m.calls++
	return m.records, nil
}

type auditCompletion struct {
	outcome  domain.AuditOutcome
	details  string
	duration *time.Duration
}

type mockAuditRepo struct {
	nextID    int64
	started   []domain.AuditEvent
	completed map[int64]auditCompletion
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{completed: map[int64]auditCompletion{}}
}

func (m *mockAuditRepo) Start(ctx context.Context, ev domain.AuditEvent) (int64, error) {
	m.nextID++
	ev.ID = m.nextID
	m.started = append(m.started, ev)
	return ev.ID, nil
}

func (m *mockAuditRepo) Complete(ctx context.Context, id int64, outcome domain.AuditOutcome, details string, duration *time.Duration) error {
	m.completed[id] = auditCompletion{outcome: outcome, details: details, duration: duration}
	return nil
}

func (m *mockAuditRepo) ListForRelease(ctx context.Context, releaseKey string, limit, offset int) ([]domain.AuditEvent, int, error) {
	var out []domain.AuditEvent
	for _, ev := range m.started {
		if ev.ReleaseKey == releaseKey {
			out = append(out, ev)
		}
	}
	return out, len(out), nil
}

type mockLease struct {
	held     map[string]bool
	released []string
}

func newMockLease() *mockLease {
	return &mockLease{held: map[string]bool{}}
}

func (m *mockLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *mockLease) Release(ctx context.Context, key string) error {
	delete(m.held, key)
	m.released = append(m.released, key)
	return nil
}

func newTestAudit() (*AuditService, *mockAuditRepo) {
	repo := newMockAuditRepo()
	return NewAuditService(repo, newMockLease()), repo
}

type mockStore struct {
	head    ObjectInfo
	headErr error
	puts    map[string][]byte
}

func newMockStore() *mockStore {
	return &mockStore{puts: map[string][]byte{}}
}

func (m *mockStore) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if m.headErr != nil {
		return ObjectInfo{}, m.headErr
	}
	return m.head, nil
}

func (m *mockStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	m.puts[bucket+"/"+key] = body
	return nil
}

type mockPresigner struct {
	protocol   domain.Protocol
	disabled   bool
	lastExpiry time.Duration
	calls      int
}

func (m *mockPresigner) Protocol() domain.Protocol { return m.protocol }
func (m *mockPresigner) Enabled() bool             { return !m.disabled }

func (m *mockPresigner) Presign(ctx context.Context, releaseKey, bucket, key string, expiry time.Duration) (string, error) {
	m.calls++
	m.lastExpiry = expiry
	return "https://signed.example/" + bucket + "/" + key, nil
}

type mockSigner struct {
	calls int
}

func (m *mockSigner) SignObject(ctx context.Context, releaseKey string, protocol domain.Protocol, bucket, key string) (string, error) {
	m.calls++
	return "https://signed.example/" + bucket + "/" + key, nil
}

type mockCache struct {
	entries map[string][]byte
	sets    int
	hits    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string][]byte{}}
}

func (m *mockCache) Get(key string) ([]byte, bool) {
	blob, ok := m.entries[key]
	if ok {
		m.hits++
	}
	return blob, ok
}

func (m *mockCache) Set(key string, val []byte) error {
	m.entries[key] = val
	m.sets++
	return nil
}
