package main

import (
	"fmt"
	"log"

	"github.com/yatra/booking-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for Yatra Booking Backend")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
	fmt.Printf("KHALTI_SIGNING_KEY=%s\n", secrets.KhaltiSigningKey)
	fmt.Println()
	fmt.Println("eSewa and Khalti merchant keys are issued by the gateways and cannot be generated here.")
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
