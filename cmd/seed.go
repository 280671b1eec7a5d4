package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"auto_blog_publisher/model"
)

// seedFile is the YAML layout accepted by the seed command.
type seedFile struct {
	Accounts []model.Account `yaml:"accounts"`
	Topics   []seedTopic     `yaml:"topics"`
}

type seedTopic struct {
	Account  string     `yaml:"account"`
	Title    string     `yaml:"title"`
	Category string     `yaml:"category"`
	Keywords []string   `yaml:"keywords"`
	Audience string     `yaml:"audience"`
	PostedBy string     `yaml:"postedBy"`
	DueAt    *time.Time `yaml:"dueAt"`
}

type seedStore interface {
	UpsertAccount(ctx context.Context, a model.Account) error
	CreateTopic(ctx context.Context, t model.Topic) (model.Topic, error)
}

func parseSeed(raw []byte) (seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return seedFile{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, a := range seed.Accounts {
		if a.ID == "" {
			return seedFile{}, fmt.Errorf("seed account %d: id is required", i)
		}
	}
	for i, t := range seed.Topics {
		if t.Account == "" || t.Title == "" {
			return seedFile{}, fmt.Errorf("seed topic %d: account and title are required", i)
		}
	}
	return seed, nil
}

// applySeed upserts the accounts and inserts the topics. Topics with a
// due time are queued for the due pass.
func applySeed(ctx context.Context, st seedStore, seed seedFile) ([]model.Topic, error) {
	for _, a := range seed.Accounts {
		if err := st.UpsertAccount(ctx, a); err != nil {
			return nil, fmt.Errorf("upsert account %s: %w", a.ID, err)
		}
	}
	created := make([]model.Topic, 0, len(seed.Topics))
	for _, t := range seed.Topics {
		topic, err := st.CreateTopic(ctx, model.Topic{
			AccountID: t.Account,
			Title:     t.Title,
			Category:  t.Category,
			Keywords:  t.Keywords,
			Audience:  t.Audience,
			PostedBy:  t.PostedBy,
			DueAt:     t.DueAt,
		})
		if err != nil {
			return created, fmt.Errorf("create topic %q: %w", t.Title, err)
		}
		created = append(created, topic)
	}
	return created, nil
}

func init() {
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load accounts and topics from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			seed, err := parseSeed(raw)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			topics, err := applySeed(ctx, a.store, seed)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d account(s) and %d topic(s).\n", len(seed.Accounts), len(topics))
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
