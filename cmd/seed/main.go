package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"schooldesk/internal/database"
	"schooldesk/internal/domain"
	"schooldesk/internal/pkg/validator"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "schooldesk.db"
	}

	db, err := database.Connect(dsn)
	if err != nil {
		log.Fatal("DB connection failed:", err)
	}

	log.Println("Running AutoMigrate...")
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.RefreshRecord{},
		&domain.Student{},
		&domain.Teacher{},
	); err != nil {
		log.Fatal("AutoMigrate failed:", err)
	}

	log.Println("Seeding users...")

	hash := func(pw string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal(err)
		}
		return string(h)
	}

	createUser := func(u *domain.User) {
		if err := validator.Check(u); err != nil {
			log.Fatalf("seed user %s: %v", u.Email, err)
		}
		if err := db.Where("email = ?", u.Email).FirstOrCreate(u).Error; err != nil {
			log.Fatal(err)
		}
	}

	admin := domain.User{Email: "admin@schooldesk.local", PasswordHash: hash("admin123"), Role: domain.RoleAdmin, Name: "Admin"}
	createUser(&admin)

	teacherSubjects := []string{"Mathematics", "History", "Physics"}
	for i, subject := range teacherSubjects {
		user := domain.User{
			Email:        fmt.Sprintf("teacher%d@schooldesk.local", i+1),
			PasswordHash: hash("teacher123"),
			Role:         domain.RoleTeacher,
			Name:         fmt.Sprintf("Teacher %d", i+1),
		}
		createUser(&user)
		teacher := domain.Teacher{UserID: user.ID, Name: user.Name, Subject: subject}
		if err := db.Where("user_id = ?", user.ID).FirstOrCreate(&teacher).Error; err != nil {
			log.Fatal(err)
		}
	}

	for i := 1; i <= 10; i++ {
		user := domain.User{
			Email:        fmt.Sprintf("student%d@schooldesk.local", i),
			PasswordHash: hash("student123"),
			Role:         domain.RoleStudent,
			Name:         fmt.Sprintf("Student %d", i),
		}
		createUser(&user)
		student := domain.Student{UserID: user.ID, Name: user.Name, Grade: fmt.Sprintf("%d", (i%4)+7)}
		if err := db.Where("user_id = ?", user.ID).FirstOrCreate(&student).Error; err != nil {
			log.Fatal(err)
		}
	}

	log.Println("Seed completed")
}
