package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cohortingest/internal/blob"
	"cohortingest/internal/clinical"
	"cohortingest/pkg/domain"
)

const (
	accKey      = "TCGA.ACC.sampleMap_HiSeqV2_PANCAN.gz"
	brcaKey     = "TCGA.BRCA.sampleMap_HiSeqV2_PANCAN"
	clinicalKey = "clinical.tsv"

	accMatrix = "sample\tTCGA-OR-A5J1-01\tTCGA-OR-A5J2-01\n" +
		"CCL5\t1.5\t2.0\n" +
		"BRCA1\t9.9\t9.9\n" +
		"IL6\tbad\t0.5\n"
	brcaMatrix = "sample\tTCGA-A1-A0SB-01\n" +
		"ATM\t3.0\n"
	namedClinical = "sample\tDSS\tOS\tclinical_stage\n" +
		"tcga-or-a5j1\t1\t0\tStage II\n" +
		"TCGA-A1-A0SB\t0\t1\t[Not Applicable]\n"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func gzipped(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func put(t *testing.T, store blob.Store, key string, data []byte) {
	t.Helper()
	_, err := store.Put(context.Background(), key, bytes.NewReader(data), blob.PutOptions{Overwrite: true})
	require.NoError(t, err)
}

// fixtureStores returns a raw store holding the ACC (gzip) and BRCA (plain)
// matrices and a clinical store holding the named clinical table.
func fixtureStores(t *testing.T) (raw, clin blob.Store) {
	t.Helper()
	raw = blob.NewMemory()
	clin = blob.NewMemory()
	put(t, raw, accKey, gzipped(t, accMatrix))
	put(t, raw, brcaKey, []byte(brcaMatrix))
	put(t, clin, clinicalKey, []byte(namedClinical))
	return raw, clin
}

func namedSource() ClinicalSource {
	return ClinicalSource{Key: clinicalKey, Layout: clinical.LayoutNamed}
}

func staleRecord() domain.MergedRecord {
	return domain.MergedRecord{GeneExpressionRecord: domain.GeneExpressionRecord{
		PatientID: "TCGA-OLD-0001-01", CancerCohort: "TCGA.OLD", GeneValues: map[string]float64{"CCL5": 0},
	}}
}

func byPatient(records []domain.MergedRecord) map[string]domain.MergedRecord {
	out := make(map[string]domain.MergedRecord, len(records))
	for _, r := range records {
		out[r.PatientID] = r
	}
	return out
}

// flakyBlob fails the first failures Get calls per key.
type flakyBlob struct {
	blob.Store
	mu       sync.Mutex
	failures int
	calls    map[string]int
}

func newFlakyBlob(inner blob.Store, failures int) *flakyBlob {
	return &flakyBlob{Store: inner, failures: failures, calls: make(map[string]int)}
}

func (f *flakyBlob) Get(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()
	if n <= f.failures {
		return blob.Info{}, nil, errors.New("connection reset by peer")
	}
	return f.Store.Get(ctx, key)
}

// brokenDest wraps a RecordStore and fails selected writes. It deliberately
// hides any Replacer implementation of the wrapped store.
type brokenDest struct {
	domain.RecordStore
	insertErr error
	deleteErr error
	inserts   int
}

func (b *brokenDest) InsertMany(ctx context.Context, records []domain.MergedRecord) error {
	b.inserts++
	if b.insertErr != nil {
		return b.insertErr
	}
	return b.RecordStore.InsertMany(ctx, records)
}

func (b *brokenDest) DeleteAll(ctx context.Context) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.RecordStore.DeleteAll(ctx)
}

// recordingMetrics captures metric calls. onFile runs after each
// FileProcessed call.
type recordingMetrics struct {
	mu      sync.Mutex
	retries map[string]int
	files   map[string]int
	ops     map[string]int
	onFile  func()
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{retries: map[string]int{}, files: map[string]int{}, ops: map[string]int{}}
}

func (m *recordingMetrics) Observe(_ context.Context, operation string, _ bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[operation]++
}

func (m *recordingMetrics) FileProcessed(status string, _, _, _, _ int) {
	m.mu.Lock()
	m.files[status]++
	hook := m.onFile
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (m *recordingMetrics) Retry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}
