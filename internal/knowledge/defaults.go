package knowledge

// 内置智能体键。
const (
	KeyProfessor   = "professor"
	KeySherlock    = "sherlock"
	KeyCryptoBuddy = "crypto_buddy"
)

// DefaultCatalog 返回随程序发布的内置提问池与问答表。
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]Content{
		KeyProfessor: {
			Prompts: []string{
				"What is Kite AI and what problem does it solve?",
				"How does Proof of Attributed Intelligence work?",
				"What are AI agents in the Kite ecosystem?",
				"How do subnets work on Kite AI?",
				"What role do data providers play in Kite AI?",
				"How are model builders rewarded on Kite AI?",
				"What makes Kite AI an EVM-compatible Layer 1?",
				"How does Kite AI attribute value to contributions?",
			},
			Pairs: []QA{
				{Question: "What is Kite AI?", Answer: "Kite AI is an EVM-compatible Layer 1 focused on AI, where data, models and agents are rewarded through Proof of Attributed Intelligence."},
				{Question: "What is Proof of Attributed Intelligence?", Answer: "It is a consensus mechanism that tracks and rewards the contributions of data providers, model builders and agents."},
				{Question: "What are Kite AI subnets?", Answer: "Subnets are specialised networks for data, models or agents that plug into the Kite AI chain for attribution and rewards."},
				{Question: "Who earns rewards on Kite AI?", Answer: "Data providers, model developers and agent builders earn rewards proportional to their attributed contribution."},
			},
		},
		KeySherlock: {
			Prompts: []string{
				"What do you think of this transaction? 0x252c02bded9a24426219248c9c1b065b752d3cf8bedf4902ed62245ab950895b",
				"Analyze this transaction: 0x4f3c7a1b2d9e8f6a5b4c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6c5d4e3f2a",
				"Is this transaction suspicious? 0x9a8b7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b",
				"Can you trace the funds in 0x1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2c?",
			},
			Pairs: []QA{
				{Question: "What do you think of this transaction? 0x252c02bded9a24426219248c9c1b065b752d3cf8bedf4902ed62245ab950895b", Answer: "The transaction is a standard token transfer with no interaction with flagged contracts."},
				{Question: "Is this address a contract? 0x000000000000000000000000000000000000dead", Answer: "No, it is the conventional burn address; tokens sent there are unrecoverable."},
				{Question: "Why did this transaction revert? 0x7d3f6c2b1a0e9d8c7b6a5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c", Answer: "The call ran out of gas during the token approval step."},
			},
		},
		KeyCryptoBuddy: {
			Prompts: []string{
				"Price of bitcoin",
				"Price of ethereum",
				"What is the market cap of solana?",
				"Top gainers in crypto today",
				"What is the 24h volume of BNB?",
				"How is the crypto market doing today?",
			},
			Pairs: []QA{
				{Question: "Price of bitcoin", Answer: "Bitcoin is trading near its recent range; check a live market feed for the exact quote."},
				{Question: "Price of ethereum", Answer: "Ethereum follows the broader market today; live quotes are available on major exchanges."},
				{Question: "What is a stablecoin?", Answer: "A stablecoin is a token designed to keep a steady value, usually pegged to a fiat currency."},
				{Question: "What is market cap?", Answer: "Market cap is the circulating supply multiplied by the current price."},
			},
		},
	})
}
