package sequence

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRun(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		failing      string
		optional     string
		wantErr      bool
		wantWarnings int
		wantLog      []string
	}{
		{
			name:    "all steps succeed",
			wantLog: []string{"do:a", "do:b", "do:c"},
		},
		{
			name:    "required failure compensates in reverse",
			failing: "c",
			wantErr: true,
			wantLog: []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"},
		},
		{
			name:         "optional failure continues",
			failing:      "b",
			optional:     "b",
			wantWarnings: 1,
			wantLog:      []string{"do:a", "do:b", "do:c"},
		},
		{
			name:    "first step failure has nothing to compensate",
			failing: "a",
			wantErr: true,
			wantLog: []string{"do:a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			step := func(name string) Step {
				return Step{
					Name: name,
					Do: func(ctx context.Context) error {
						log = append(log, "do:"+name)
						if name == tt.failing {
							return boom
						}
						return nil
					},
					Compensate: func(ctx context.Context) error {
						log = append(log, "undo:"+name)
						return nil
					},
					Optional: name == tt.optional,
				}
			}

			report, err := New(nil, step("a"), step("b"), step("c")).Run(context.Background())

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var stepErr *StepError
				if !errors.As(err, &stepErr) || stepErr.Step != tt.failing {
					t.Errorf("expected StepError for %q, got %v", tt.failing, err)
				}
				if !errors.Is(err, boom) {
					t.Errorf("expected wrapped cause, got %v", err)
				}
			}
			if len(report.Warnings) != tt.wantWarnings {
				t.Errorf("warnings = %d, want %d", len(report.Warnings), tt.wantWarnings)
			}
			if !reflect.DeepEqual(log, tt.wantLog) {
				t.Errorf("log = %v, want %v", log, tt.wantLog)
			}
		})
	}
}

func TestRun_CompensationIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var compensated bool

	_, err := New(nil,
		Step{
			Name: "write",
			Do:   func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				compensated = ctx.Err() == nil
				return nil
			},
		},
		Step{
			Name: "fail",
			Do: func(ctx context.Context) error {
				cancel()
				return ctx.Err()
			},
		},
	).Run(ctx)

	if err == nil {
		t.Fatal("expected error")
	}
	if !compensated {
		t.Error("compensation should run with a live context")
	}
}
