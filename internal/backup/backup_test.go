package backup

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sessionfleet/internal/model"
	"sessionfleet/internal/store"
)

func testStore(t *testing.T) (*store.Accounts, *logrus.Entry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return store.New(db, logrus.NewEntry(l)), logrus.NewEntry(l)
}

func seed(t *testing.T, accounts *store.Accounts, identity int64, label, credential string) {
	t.Helper()
	acc := &model.Account{
		Identity:     identity,
		Credential:   credential,
		Cadence:      model.DefaultCadence,
		DestroyCodes: true,
	}
	acc.SetLabel(label)
	if err := accounts.Upsert(context.Background(), acc); err != nil {
		t.Fatalf("seed %d: %v", identity, err)
	}
}

func TestExportCarriesCredentials(t *testing.T) {
	accounts, _ := testStore(t)
	seed(t, accounts, 1, "alpha", "sealed-1")
	seed(t, accounts, 2, "beta", "sealed-2")

	data, err := Export(context.Background(), accounts)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var arch Archive
	if err := json.Unmarshal(data, &arch); err != nil {
		t.Fatalf("archive unreadable: %v", err)
	}
	if arch.ID == "" || arch.ExportedAt.IsZero() {
		t.Errorf("archive metadata missing: %+v", arch)
	}
	if len(arch.Accounts) != 2 {
		t.Fatalf("archived %d accounts, want 2", len(arch.Accounts))
	}
	if arch.Accounts[0].Credential != "sealed-1" {
		t.Errorf("credential not archived: %+v", arch.Accounts[0])
	}
}

func TestImportSkipsExistingByDefault(t *testing.T) {
	src, log := testStore(t)
	seed(t, src, 1, "alpha", "new-cred")
	data, err := Export(context.Background(), src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := testStore(t)
	seed(t, dst, 1, "alpha", "old-cred")

	report, err := Import(context.Background(), dst, data, false, log)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Skipped != 1 || report.Imported != 0 {
		t.Errorf("report = %+v, want one skip", report)
	}
	if acc, _ := dst.FindByIdentity(context.Background(), 1); acc.Credential != "old-cred" {
		t.Error("existing record was touched without overwrite")
	}
}

func TestImportOverwrites(t *testing.T) {
	src, log := testStore(t)
	seed(t, src, 1, "alpha", "new-cred")
	seed(t, src, 2, "beta", "cred-2")
	data, err := Export(context.Background(), src)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst, _ := testStore(t)
	seed(t, dst, 1, "alpha", "old-cred")

	report, err := Import(context.Background(), dst, data, true, log)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Overwritten != 1 || report.Imported != 1 {
		t.Errorf("report = %+v, want one overwrite and one import", report)
	}
	if acc, _ := dst.FindByIdentity(context.Background(), 1); acc.Credential != "new-cred" {
		t.Error("overwrite did not replace the credential")
	}
}

func TestImportToleratesBadRecords(t *testing.T) {
	dst, log := testStore(t)
	data := []byte(`{"id":"x","accounts":[{"identity":0,"credential":""},{"identity":5,"credential":"c"}]}`)

	report, err := Import(context.Background(), dst, data, false, log)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Failed != 1 || report.Imported != 1 {
		t.Errorf("report = %+v, want one failure and one import", report)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	dst, log := testStore(t)
	if _, err := Import(context.Background(), dst, []byte("not json"), false, log); err == nil {
		t.Fatal("expected error for malformed archive")
	}
}
