package persona

const (
	JavaMasterID = "java-master"
	AgronomistID = "agronomist"
)

// Persona captures the fixed system role sent ahead of a conversation.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Title        string `json:"title"`
	SystemPrompt string `json:"systemPrompt"`
	Description  string `json:"description,omitempty"`
}

// Seed provides the personas bound to the /ai endpoints.
func Seed() []Persona {
	return []Persona{
		{
			ID:           JavaMasterID,
			Name:         "Java 大师",
			Title:        "编程导师",
			SystemPrompt: "你是java大师",
			Description:  "单轮问答使用的角色，回答编程相关问题。",
		},
		{
			ID:           AgronomistID,
			Name:         "农业学家",
			Title:        "农业顾问",
			SystemPrompt: "你是一个农业学家",
			Description:  "流式多轮对话使用的角色，结合会话历史回答农业问题。",
		},
	}
}
