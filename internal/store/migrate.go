package store

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table definitions, applied through ent's migration engine so the same
// layout works on SQLite and Postgres.
var (
	usersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "tokens", Type: field.TypeInt64, Default: 0},
		{Name: "tariff_id", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	usersTable = &schema.Table{
		Name:       "users",
		Columns:    usersColumns,
		PrimaryKey: []*schema.Column{usersColumns[0]},
	}

	tariffsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "name", Type: field.TypeString},
		{Name: "tokens", Type: field.TypeInt64, Default: 0},
		{Name: "is_default", Type: field.TypeBool, Default: false},
	}
	tariffsTable = &schema.Table{
		Name:       "tariffs",
		Columns:    tariffsColumns,
		PrimaryKey: []*schema.Column{tariffsColumns[0]},
	}

	testTypesColumns = []*schema.Column{
		{Name: "type", Type: field.TypeString},
		{Name: "price", Type: field.TypeInt64},
		{Name: "trial_price", Type: field.TypeInt64},
	}
	testTypesTable = &schema.Table{
		Name:       "test_types",
		Columns:    testTypesColumns,
		PrimaryKey: []*schema.Column{testTypesColumns[0]},
	}

	tokenTransactionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "user_id", Type: field.TypeString},
		{Name: "transaction_type", Type: field.TypeString},
		{Name: "amount", Type: field.TypeInt64},
		{Name: "balance_after_transaction", Type: field.TypeInt64},
		{Name: "description", Type: field.TypeString, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
	}
	tokenTransactionsTable = &schema.Table{
		Name:       "token_transactions",
		Columns:    tokenTransactionsColumns,
		PrimaryKey: []*schema.Column{tokenTransactionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "tokentransaction_user_id", Columns: []*schema.Column{tokenTransactionsColumns[1]}},
		},
	}

	examsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "module", Type: field.TypeString},
		{Name: "title", Type: field.TypeString},
		{Name: "translations", Type: field.TypeString, Default: "{}"},
	}
	examsTable = &schema.Table{
		Name:       "exams",
		Columns:    examsColumns,
		PrimaryKey: []*schema.Column{examsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "exam_module", Columns: []*schema.Column{examsColumns[1]}},
		},
	}

	examPartsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "exam_id", Type: field.TypeString},
		{Name: "number", Type: field.TypeInt},
		{Name: "title", Type: field.TypeString, Default: ""},
		{Name: "body", Type: field.TypeString, Default: ""},
		{Name: "media_path", Type: field.TypeString, Default: ""},
		{Name: "translations", Type: field.TypeString, Default: "{}"},
	}
	examPartsTable = &schema.Table{
		Name:       "exam_parts",
		Columns:    examPartsColumns,
		PrimaryKey: []*schema.Column{examPartsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "exampart_exam_id_number", Unique: true, Columns: []*schema.Column{examPartsColumns[1], examPartsColumns[2]}},
		},
	}

	questionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "part_id", Type: field.TypeString},
		{Name: "idx", Type: field.TypeInt},
		{Name: "type", Type: field.TypeString},
		{Name: "text", Type: field.TypeString, Default: ""},
		{Name: "options", Type: field.TypeString, Default: "[]"},
		{Name: "correct_answer", Type: field.TypeString, Default: "null"},
	}
	questionsTable = &schema.Table{
		Name:       "questions",
		Columns:    questionsColumns,
		PrimaryKey: []*schema.Column{questionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "question_part_id", Columns: []*schema.Column{questionsColumns[1]}},
		},
	}

	sessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "module", Type: field.TypeString},
		{Name: "user_id", Type: field.TypeString},
		{Name: "exam_id", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "price_paid", Type: field.TypeInt64, Default: 0},
		{Name: "lang", Type: field.TypeString, Default: "en"},
		{Name: "start_time", Type: field.TypeTime, Nullable: true},
		{Name: "end_time", Type: field.TypeTime, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	sessionsTable = &schema.Table{
		Name:       "sessions",
		Columns:    sessionsColumns,
		PrimaryKey: []*schema.Column{sessionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "session_user_id", Columns: []*schema.Column{sessionsColumns[2]}},
			{Name: "session_status_start_time", Columns: []*schema.Column{sessionsColumns[4], sessionsColumns[7]}},
		},
	}

	answersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString},
		{Name: "user_id", Type: field.TypeString},
		{Name: "question_id", Type: field.TypeString},
		{Name: "part_id", Type: field.TypeString},
		{Name: "user_answer", Type: field.TypeString, Default: "null"},
		{Name: "answered", Type: field.TypeBool, Default: false},
		{Name: "is_correct", Type: field.TypeBool, Nullable: true},
		{Name: "score", Type: field.TypeFloat64, Default: 0},
		{Name: "correct_answer", Type: field.TypeString, Default: ""},
		{Name: "explanation", Type: field.TypeString, Default: ""},
		{Name: "media_path", Type: field.TypeString, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
	}
	answersTable = &schema.Table{
		Name:       "answers",
		Columns:    answersColumns,
		PrimaryKey: []*schema.Column{answersColumns[0]},
		Indexes: []*schema.Index{
			{Name: "answer_session_id_user_id_question_id", Unique: true, Columns: []*schema.Column{answersColumns[1], answersColumns[2], answersColumns[3]}},
		},
	}

	analysesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "module", Type: field.TypeString},
		{Name: "subject_id", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString},
		{Name: "user_id", Type: field.TypeString},
		{Name: "correct_answers", Type: field.TypeInt, Default: 0},
		{Name: "total_questions", Type: field.TypeInt, Default: 0},
		{Name: "overall_score", Type: field.TypeFloat64, Default: 0},
		{Name: "criteria", Type: field.TypeString, Default: "{}"},
		{Name: "feedback", Type: field.TypeString, Default: ""},
		{Name: "duration_ms", Type: field.TypeInt64, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
	}
	analysesTable = &schema.Table{
		Name:       "analyses",
		Columns:    analysesColumns,
		PrimaryKey: []*schema.Column{analysesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "analysis_module_subject_id_user_id", Unique: true, Columns: []*schema.Column{analysesColumns[1], analysesColumns[2], analysesColumns[4]}},
			{Name: "analysis_session_id", Columns: []*schema.Column{analysesColumns[3]}},
		},
	}

	graderCallsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "provider", Type: field.TypeString},
		{Name: "model", Type: field.TypeString},
		{Name: "purpose", Type: field.TypeString},
		{Name: "input_tokens", Type: field.TypeInt, Default: 0},
		{Name: "output_tokens", Type: field.TypeInt, Default: 0},
		{Name: "latency_ms", Type: field.TypeInt64, Default: 0},
		{Name: "success", Type: field.TypeBool},
		{Name: "error_message", Type: field.TypeString, Default: ""},
		{Name: "request_body", Type: field.TypeString, Default: ""},
		{Name: "response_body", Type: field.TypeString, Default: ""},
		{Name: "created_at", Type: field.TypeTime},
	}
	graderCallsTable = &schema.Table{
		Name:       "grader_calls",
		Columns:    graderCallsColumns,
		PrimaryKey: []*schema.Column{graderCallsColumns[0]},
	}

	// Tables lists every table in creation order.
	Tables = []*schema.Table{
		usersTable,
		tariffsTable,
		testTypesTable,
		tokenTransactionsTable,
		examsTable,
		examPartsTable,
		questionsTable,
		sessionsTable,
		answersTable,
		analysesTable,
		graderCallsTable,
	}
)

// Migrate creates missing tables, columns and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("create migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
