package db

import (
	"fmt"

	"deckgen/internal/jobs"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&jobs.Template{},
		&jobs.CsvUpload{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_generation_jobs_queue on generation_jobs(status, created_at);`,
		`create index if not exists idx_generation_jobs_owner on generation_jobs(owner_user_id, created_at desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	if gdb.Dialector.Name() != "postgres" {
		return nil
	}

	// Wake idle workers on insert instead of waiting for the next poll tick.
	notify := []string{
		fmt.Sprintf(`
create or replace function notify_generation_job() returns trigger as $$
begin
  perform pg_notify('%s', new.id::text);
  return new;
end;
$$ language plpgsql;`, jobs.NotifyChannel),
		`drop trigger if exists trg_generation_jobs_notify on generation_jobs;`,
		`
create trigger trg_generation_jobs_notify
after insert on generation_jobs
for each row when (new.status = 'queued')
execute function notify_generation_job();`,
	}
	for _, s := range notify {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("notify trigger exec failed: %w", err)
		}
	}
	return nil
}
