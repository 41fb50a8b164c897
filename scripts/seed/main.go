package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/hostel-permit-api/internal/models"
	"github.com/noah-isme/hostel-permit-api/internal/repository"
	"github.com/noah-isme/hostel-permit-api/migrations"
	"github.com/noah-isme/hostel-permit-api/pkg/config"
	"github.com/noah-isme/hostel-permit-api/pkg/database"
)

type account struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Role     string   `json:"role"`
	Blocks   []string `json:"assigned_blocks"`
	Floors   []string `json:"assigned_floors"`
	Student  *profile `json:"student,omitempty"`
}

type profile struct {
	RollNumber  string `json:"roll_number"`
	Phone       string `json:"phone"`
	ParentPhone string `json:"parent_phone"`
	HostelBlock string `json:"hostel_block"`
	Floor       string `json:"floor"`
	RoomNumber  string `json:"room_number"`
	Branch      string `json:"branch"`
	Semester    int    `json:"semester"`
}

type fixture struct {
	Accounts []account `json:"accounts"`
}

func main() {
	var (
		fixturePath string
		timeout     time.Duration
		dryRun      bool
		migrate     bool
	)

	flag.StringVar(&fixturePath, "file", filepath.Join("scripts", "seed", "accounts.json"), "Path to JSON accounts file")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall seeding timeout")
	flag.BoolVar(&dryRun, "dry-run", false, "Validate the file without writing")
	flag.BoolVar(&migrate, "migrate", false, "Apply pending schema migrations first")
	flag.Parse()

	accounts, err := loadAccounts(fixturePath)
	if err != nil {
		log.Fatalf("failed to load accounts: %v", err)
	}
	if dryRun {
		fmt.Printf("%d accounts valid\n", len(accounts))
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	if migrate {
		applied, err := database.Migrate(ctx, db, migrations.Files)
		if err != nil {
			log.Fatalf("migrate: %v", err)
		}
		fmt.Printf("applied %d migrations\n", len(applied))
	}

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	for _, a := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash password for %s: %v", a.Email, err)
		}
		user := &models.User{
			ID:             a.ID,
			Email:          strings.ToLower(a.Email),
			PasswordHash:   string(hash),
			FullName:       a.FullName,
			Role:           models.UserRole(a.Role),
			AssignedBlocks: a.Blocks,
			AssignedFloors: a.Floors,
			Active:         true,
		}
		if err := users.Upsert(ctx, user); err != nil {
			log.Fatalf("seed %s: %v", a.Email, err)
		}
		if a.Student != nil {
			if err := students.Upsert(ctx, a.studentRecord(user.ID)); err != nil {
				log.Fatalf("seed student %s: %v", a.Email, err)
			}
		}
		fmt.Printf("[OK] %-16s %s\n", a.Role, a.Email)
	}
}

func (a account) studentRecord(id string) *models.Student {
	p := a.Student
	return &models.Student{
		ID:          id,
		FullName:    a.FullName,
		RollNumber:  p.RollNumber,
		Email:       strings.ToLower(a.Email),
		Phone:       p.Phone,
		ParentPhone: p.ParentPhone,
		HostelBlock: p.HostelBlock,
		Floor:       p.Floor,
		RoomNumber:  p.RoomNumber,
		Branch:      p.Branch,
		Semester:    p.Semester,
		Status:      models.StudentActive,
	}
}

func loadAccounts(path string) ([]account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts defined in %s", path)
	}
	for i, a := range f.Accounts {
		if err := validateAccount(a); err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
	}
	return f.Accounts, nil
}

func validateAccount(a account) error {
	if strings.TrimSpace(a.Email) == "" || a.Password == "" {
		return fmt.Errorf("email and password are required")
	}
	switch models.UserRole(a.Role) {
	case models.RoleAdmin, models.RoleFloorIncharge, models.RoleHostelIncharge, models.RoleWarden, models.RoleSecurity:
		if a.Student != nil {
			return fmt.Errorf("%s: only students carry a student profile", a.Email)
		}
	case models.RoleStudent:
		if a.Student == nil {
			return fmt.Errorf("%s: student profile missing", a.Email)
		}
		if a.Student.Semester < 1 || a.Student.Semester > 8 {
			return fmt.Errorf("%s: semester must be 1-8", a.Email)
		}
		if a.Student.HostelBlock == "" || a.Student.Floor == "" {
			return fmt.Errorf("%s: hostel block and floor are required", a.Email)
		}
	default:
		return fmt.Errorf("%s: unknown role %q", a.Email, a.Role)
	}
	return nil
}
