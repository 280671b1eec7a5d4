package model

// Account owns topics and drafts and carries the operator-supplied
// integration settings.
type Account struct {
	ID     string `json:"id" bson:"_id" yaml:"id"`
	Name   string `json:"name" bson:"name" yaml:"name"`
	Active bool   `json:"active" bson:"active" yaml:"active"`
	// MonthlyLimit caps generations and publishes per calendar month;
	// zero means unlimited.
	MonthlyLimit int `json:"monthlyLimit" bson:"monthlyLimit" yaml:"monthlyLimit"`
	// APIKey authenticates this account against the generation service.
	APIKey         string `json:"-" bson:"apiKey" yaml:"apiKey"`
	PublishCommand string `json:"publishCommand,omitempty" bson:"publishCommand,omitempty" yaml:"publishCommand"`
	UpdateCommand  string `json:"updateCommand,omitempty" bson:"updateCommand,omitempty" yaml:"updateCommand"`
	DeleteCommand  string `json:"deleteCommand,omitempty" bson:"deleteCommand,omitempty" yaml:"deleteCommand"`
}
