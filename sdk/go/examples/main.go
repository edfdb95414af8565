package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/VictoryV20/SecureChain/sdk/go/securechain"
)

// 演示通过 SDK 驱动一条货运单走完完整生命周期。
func main() {
	baseURL := os.Getenv("SECURECHAIN_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	originClient, err := securechain.NewClient(baseURL, os.Getenv("SECURECHAIN_ORIGIN_KEY"), nil)
	if err != nil {
		log.Fatalf("构造客户端失败: %v", err)
	}
	destClient, err := securechain.NewClient(baseURL, os.Getenv("SECURECHAIN_DEST_KEY"), nil)
	if err != nil {
		log.Fatalf("构造客户端失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := originClient.RegisterParticipant(ctx, securechain.RegisterRequest{ID: "acme", Name: "Acme Logistics", Kind: "carrier"}); err != nil {
		log.Printf("注册 acme: %v", err)
	}
	if _, err := destClient.RegisterParticipant(ctx, securechain.RegisterRequest{ID: "globex", Name: "Globex Retail", Kind: "retailer"}); err != nil {
		log.Printf("注册 globex: %v", err)
	}

	assessment, err := originClient.SimulateRisk(ctx, "acme", 1200)
	if err != nil {
		log.Fatalf("风险评估失败: %v", err)
	}
	fmt.Printf("风险评估: risk=%d threshold=%d admitted=%v\n", assessment.Risk, assessment.Threshold, assessment.Admitted)

	shipment, err := originClient.CreateShipment(ctx, securechain.CreateShipmentRequest{Destination: "globex", DeclaredValue: 1200})
	if err != nil {
		log.Fatalf("建档失败: %v", err)
	}
	fmt.Printf("货运单 #%d 已建档, 风险分 %d\n", shipment.ID, shipment.RiskScore)

	if _, err := originClient.TransferCustody(ctx, shipment.ID, securechain.TransferRequest{NewHolder: "globex"}); err != nil {
		log.Fatalf("移交失败: %v", err)
	}
	delivered, err := destClient.CompleteDelivery(ctx, shipment.ID, securechain.DeliveryRequest{})
	if err != nil {
		log.Fatalf("签收失败: %v", err)
	}
	fmt.Printf("货运单 #%d 状态: %s\n", delivered.ID, delivered.Status)

	chain, err := originClient.CustodyChain(ctx, shipment.ID)
	if err != nil {
		log.Fatalf("读取监管链失败: %v", err)
	}
	for _, record := range chain {
		fmt.Printf("  seq=%d holder=%s verified=%v\n", record.Sequence, record.Holder, record.Verified)
	}
}
