package coordinator

import (
	"errors"
	"testing"
	"time"
)

func TestNewTxnMetrics(t *testing.T) {
	tests := []struct {
		name     string
		explicit bool
	}{
		{
			name:     "explicit transaction",
			explicit: true,
		},
		{
			name:     "auto-commit transaction",
			explicit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now()
			m := NewTxnMetrics(tt.explicit)
			after := time.Now()

			if m == nil {
				t.Fatal("NewTxnMetrics returned nil")
			}

			if m.explicit != tt.explicit {
				t.Errorf("explicit = %v, want %v", m.explicit, tt.explicit)
			}

			if m.startTime.Before(before) || m.startTime.After(after) {
				t.Errorf("startTime not captured correctly: got %v, expected between %v and %v",
					m.startTime, before, after)
			}
		})
	}
}

func TestRecordFailure(t *testing.T) {
	tests := []struct {
		name   string
		result string
		err    error
	}{
		{
			name:   "rollback",
			result: "rollback",
			err:    errors.New("rolled back"),
		},
		{
			name:   "sync failure",
			result: "sync_failed",
			err:    errors.New("file locked"),
		},
		{
			name:   "nil error passes through",
			result: "rollback",
			err:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTxnMetrics(true)
			got := m.RecordFailure(tt.result, tt.err)
			if got != tt.err {
				t.Errorf("RecordFailure returned %v, want %v", got, tt.err)
			}
			if !m.done {
				t.Error("transaction not marked done")
			}
		})
	}
}

func TestRecordSuccess(t *testing.T) {
	m := NewTxnMetrics(false)
	if err := m.RecordSuccess(); err != nil {
		t.Errorf("RecordSuccess returned %v, want nil", err)
	}
	if !m.done {
		t.Error("transaction not marked done")
	}
}

func TestRecordOnlyOnce(t *testing.T) {
	m := NewTxnMetrics(true)
	_ = m.RecordSuccess()
	_ = m.RecordFailure("rollback", errors.New("late"))
	if !m.done {
		t.Error("transaction not marked done")
	}
}

func TestDuration(t *testing.T) {
	m := NewTxnMetrics(false)
	time.Sleep(5 * time.Millisecond)
	if d := m.Duration(); d < 5*time.Millisecond {
		t.Errorf("Duration = %v, want at least 5ms", d)
	}
}
